// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package statsexport renders the process-wide source registry's stats
// snapshot, the same data the control socket's ReportStats command serves,
// as Prometheus metrics. Grounded on the collector idiom used throughout
// the retrieved corpus (per-entity labeled gauges built with
// prometheus.NewDesc/MustNewConstMetric in Collect).
package statsexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bit-babbler/seedd/internal/qa"
	"github.com/bit-babbler/seedd/internal/registry"
)

// Collector implements prometheus.Collector over a *registry.Monitor
// snapshot: the spec's own stats JSON schema is the source of truth, this
// is a second, parallel serialization of the identical snapshot rather
// than a second source of data.
type Collector struct {
	mon *registry.Monitor

	bytesAnalysed *prometheus.Desc
	bytesPassed   *prometheus.Desc
	isOk          *prometheus.Desc

	fipsFailRateShort *prometheus.Desc
	fipsFailRateLong  *prometheus.Desc
	fipsFailRatePeak  *prometheus.Desc
	fipsPassRunShort  *prometheus.Desc
	fipsPassRunLong   *prometheus.Desc
	fipsPassRunPeak   *prometheus.Desc

	entEntropy *prometheus.Desc
	entChisq   *prometheus.Desc
	entMean    *prometheus.Desc
	entPi      *prometheus.Desc
	entCorr    *prometheus.Desc
	entMinEnt  *prometheus.Desc

	bitRunsChisq  *prometheus.Desc
	bitRunsChisqP *prometheus.Desc
}

// New returns a Collector scraping mon. Register it with a
// prometheus.Registerer (or prometheus.MustRegister against the default
// registry) at startup.
func New(mon *registry.Monitor) *Collector {
	const sourceLabel = "source"
	return &Collector{
		mon: mon,

		bytesAnalysed: prometheus.NewDesc("seedd_qa_bytes_analysed_total",
			"Bytes fed through this source's HealthMonitor since startup.", []string{sourceLabel}, nil),
		bytesPassed: prometheus.NewDesc("seedd_qa_bytes_passed_total",
			"Bytes accepted into the pool after passing QA gating.", []string{sourceLabel}, nil),
		isOk: prometheus.NewDesc("seedd_qa_is_ok",
			"1 if the source's HealthMonitor currently considers its output trustworthy.", []string{sourceLabel}, nil),

		fipsFailRateShort: prometheus.NewDesc("seedd_fips_fail_rate_short",
			"Short-term (EWMA) failure rate of a FIPS 140-2 test.", []string{sourceLabel, "test"}, nil),
		fipsFailRateLong: prometheus.NewDesc("seedd_fips_fail_rate_long",
			"Long-term average failure rate of a FIPS 140-2 test.", []string{sourceLabel, "test"}, nil),
		fipsFailRatePeak: prometheus.NewDesc("seedd_fips_fail_rate_peak",
			"Peak short-term failure rate observed for a FIPS 140-2 test.", []string{sourceLabel, "test"}, nil),
		fipsPassRunShort: prometheus.NewDesc("seedd_fips_pass_run_short",
			"Short-term (EWMA) pass-run length between a FIPS test's failures.", []string{sourceLabel, "test"}, nil),
		fipsPassRunLong: prometheus.NewDesc("seedd_fips_pass_run_long",
			"Long-term average pass-run length between a FIPS test's failures.", []string{sourceLabel, "test"}, nil),
		fipsPassRunPeak: prometheus.NewDesc("seedd_fips_pass_run_peak",
			"Peak pass-run length observed for a FIPS test.", []string{sourceLabel, "test"}, nil),

		entEntropy: prometheus.NewDesc("seedd_ent_entropy_bits", "Current ENT short-window entropy estimate, in bits per sample.", []string{sourceLabel, "width"}, nil),
		entChisq:   prometheus.NewDesc("seedd_ent_chisq", "Current ENT short-window chi-square statistic.", []string{sourceLabel, "width"}, nil),
		entMean:    prometheus.NewDesc("seedd_ent_mean", "Current ENT short-window sample mean.", []string{sourceLabel, "width"}, nil),
		entPi:      prometheus.NewDesc("seedd_ent_pi_estimate", "Current ENT short-window Monte-Carlo pi estimate.", []string{sourceLabel, "width"}, nil),
		entCorr:    prometheus.NewDesc("seedd_ent_serial_correlation", "Current ENT short-window serial correlation coefficient.", []string{sourceLabel, "width"}, nil),
		entMinEnt:  prometheus.NewDesc("seedd_ent_min_entropy_bits", "Current ENT short-window min-entropy estimate, in bits per sample.", []string{sourceLabel, "width"}, nil),

		bitRunsChisq:  prometheus.NewDesc("seedd_bitruns_chisq", "Chi-square statistic over accumulated bit-run lengths.", []string{sourceLabel}, nil),
		bitRunsChisqP: prometheus.NewDesc("seedd_bitruns_chisq_p", "Chi-square tail probability over accumulated bit-run lengths.", []string{sourceLabel}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.bytesAnalysed, c.bytesPassed, c.isOk,
		c.fipsFailRateShort, c.fipsFailRateLong, c.fipsFailRatePeak,
		c.fipsPassRunShort, c.fipsPassRunLong, c.fipsPassRunPeak,
		c.entEntropy, c.entChisq, c.entMean, c.entPi, c.entCorr, c.entMinEnt,
		c.bitRunsChisq, c.bitRunsChisqP,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range c.mon.GetIDs() {
		stats := c.mon.GetStats(id)
		snap, ok := stats[id]
		if !ok {
			continue
		}
		c.collectSource(ch, id, snap)
	}
}

func (c *Collector) collectSource(ch chan<- prometheus.Metric, id string, s qa.Snapshot) {
	ch <- prometheus.MustNewConstMetric(c.bytesAnalysed, prometheus.CounterValue, float64(s.BytesAnalysed), id)
	ch <- prometheus.MustNewConstMetric(c.bytesPassed, prometheus.CounterValue, float64(s.BytesPassed), id)
	ch <- prometheus.MustNewConstMetric(c.isOk, prometheus.GaugeValue, boolToFloat(s.IsOk), id)

	for name, t := range s.FIPS {
		ch <- prometheus.MustNewConstMetric(c.fipsFailRateShort, prometheus.GaugeValue, t.FailRate.Short, id, name)
		ch <- prometheus.MustNewConstMetric(c.fipsFailRateLong, prometheus.GaugeValue, t.FailRate.Long, id, name)
		ch <- prometheus.MustNewConstMetric(c.fipsFailRatePeak, prometheus.GaugeValue, t.FailRate.Peak, id, name)
		ch <- prometheus.MustNewConstMetric(c.fipsPassRunShort, prometheus.GaugeValue, float64(t.PassRuns.Short), id, name)
		ch <- prometheus.MustNewConstMetric(c.fipsPassRunLong, prometheus.GaugeValue, float64(t.PassRuns.Long), id, name)
		ch <- prometheus.MustNewConstMetric(c.fipsPassRunPeak, prometheus.GaugeValue, float64(t.PassRuns.Peak), id, name)
	}

	c.collectEnt(ch, id, "8", s.Ent8.Current)
	c.collectEnt(ch, id, "16", s.Ent16.Current)

	ch <- prometheus.MustNewConstMetric(c.bitRunsChisq, prometheus.GaugeValue, s.BitRuns.Chisq, id)
	ch <- prometheus.MustNewConstMetric(c.bitRunsChisqP, prometheus.GaugeValue, s.BitRuns.ChisqP, id)
}

func (c *Collector) collectEnt(ch chan<- prometheus.Metric, id, width string, r qa.EntResult) {
	ch <- prometheus.MustNewConstMetric(c.entEntropy, prometheus.GaugeValue, r.Entropy, id, width)
	ch <- prometheus.MustNewConstMetric(c.entChisq, prometheus.GaugeValue, r.Chisq, id, width)
	ch <- prometheus.MustNewConstMetric(c.entMean, prometheus.GaugeValue, r.Mean, id, width)
	ch <- prometheus.MustNewConstMetric(c.entPi, prometheus.GaugeValue, r.Pi, id, width)
	ch <- prometheus.MustNewConstMetric(c.entCorr, prometheus.GaugeValue, r.Corr, id, width)
	ch <- prometheus.MustNewConstMetric(c.entMinEnt, prometheus.GaugeValue, r.MinEntropy, id, width)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ prometheus.Collector = (*Collector)(nil)
