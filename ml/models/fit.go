// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/stax/ml/datasets"
	"github.com/gomlx/stax/ml/metrics"
	"github.com/gomlx/stax/types/xerrors"
)

// Plan describes an upcoming training run, handed to listeners before the
// first batch.
type Plan struct {
	DatasetName string
	NumExamples int
	BatchSize   int
	NumBatches  int // per epoch, the last batch possibly smaller
	NumEpochs   int

	// MetricNames are the short names of the compiled metrics, in the order
	// their values appear in stats maps.
	MetricNames []string
}

// BatchStats reports one completed training batch.
type BatchStats struct {
	Epoch     int
	Batch     int // within the epoch, 0-based
	BatchSize int // number of examples in this batch
	Loss      float64
}

// EpochStats reports one completed epoch: batch-weighted means of the loss
// and metrics over the epoch's training batches, plus the validation values
// (keys prefixed "val_") when a validation dataset was given.
type EpochStats struct {
	Epoch   int
	Loss    float64
	Metrics map[string]float64
}

// History accumulates the EpochStats of a training run.
type History struct {
	Epochs []EpochStats
}

// Last returns the stats of the final epoch.
func (h *History) Last() EpochStats {
	return h.Epochs[len(h.Epochs)-1]
}

// MetricSeries returns the per-epoch values of the named metric, or the loss
// for the name "loss".
func (h *History) MetricSeries(name string) []float64 {
	series := make([]float64, len(h.Epochs))
	for ii, epoch := range h.Epochs {
		if name == "loss" {
			series[ii] = epoch.Loss
		} else {
			series[ii] = epoch.Metrics[name]
		}
	}
	return series
}

// Listener observes a training run. Implementations can render progress,
// collect stats or stream them elsewhere. All hooks run synchronously on the
// training goroutine.
type Listener interface {
	OnTrainBegin(plan Plan)
	OnEpochBegin(epoch int)
	OnBatchEnd(stats BatchStats)
	OnEpochEnd(stats EpochStats)
	OnTrainEnd(history *History)
}

// FitOption configures a call to Fit.
type FitOption func(*fitConfig)

type fitConfig struct {
	validation datasets.Dataset
	listeners  []Listener
}

// WithValidation evaluates the given dataset (forward-only) at the end of
// every epoch, adding "val_loss" and "val_<metric>" entries to the
// EpochStats.
func WithValidation(ds datasets.Dataset) FitOption {
	return func(cfg *fitConfig) { cfg.validation = ds }
}

// WithListeners registers listeners for the training run.
func WithListeners(listeners ...Listener) FitOption {
	return func(cfg *fitConfig) { cfg.listeners = append(cfg.listeners, listeners...) }
}

// Fit trains the model for the given number of epochs, partitioning the
// dataset into batches of batchSize, the final smaller one included. It
// returns the per-epoch history. On error the current run is aborted and its
// partial results discarded; the model's variables keep the values of the
// last completed step.
func (m *Sequential) Fit(ds datasets.Dataset, epochs, batchSize int, opts ...FitOption) (history *History, err error) {
	err = exceptions.TryCatch[error](func() { history = m.fit(ds, epochs, batchSize, opts) })
	if err != nil {
		return nil, err
	}
	return
}

func (m *Sequential) fit(ds datasets.Dataset, epochs, batchSize int, opts []FitOption) *History {
	m.checkState("Fit", stateCompiled)
	if epochs <= 0 {
		xerrors.ThrowInvalidParamf("model: Fit requires a positive number of epochs, got %d", epochs)
	}
	var cfg fitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	numExamples := ds.NumExamples()
	numBatches := numBatchesFor(numExamples, batchSize)
	plan := Plan{
		DatasetName: ds.Name(),
		NumExamples: numExamples,
		BatchSize:   batchSize,
		NumBatches:  numBatches,
		NumEpochs:   epochs,
		MetricNames: m.metricShortNames(),
	}
	for _, listener := range cfg.listeners {
		listener.OnTrainBegin(plan)
	}

	history := &History{}
	for epoch := 0; epoch < epochs; epoch++ {
		for _, listener := range cfg.listeners {
			listener.OnEpochBegin(epoch)
		}
		var lossAcc metrics.MeanAccumulator
		metricAccs := make([]metrics.MeanAccumulator, len(m.metrics))
		for batch := 0; batch < numBatches; batch++ {
			from := batch * batchSize
			to := min(from+batchSize, numExamples)
			x, y := ds.BatchWindow(from, to)
			outputs := m.trainExec.CallOrThrow(x, y)
			weight := float64(to - from)
			lossAcc.Add(metrics.ScalarToFloat64(outputs[0]), weight)
			for ii := range m.metrics {
				metricAccs[ii].Add(metrics.ScalarToFloat64(outputs[1+ii]), weight)
			}
			for _, listener := range cfg.listeners {
				listener.OnBatchEnd(BatchStats{
					Epoch:     epoch,
					Batch:     batch,
					BatchSize: to - from,
					Loss:      metrics.ScalarToFloat64(outputs[0]),
				})
			}
		}
		stats := EpochStats{
			Epoch:   epoch,
			Loss:    lossAcc.Mean(),
			Metrics: make(map[string]float64, 2*(1+len(m.metrics))),
		}
		for ii, metric := range m.metrics {
			stats.Metrics[metric.ShortName()] = metricAccs[ii].Mean()
		}
		if cfg.validation != nil {
			valLoss, valMetrics := m.evaluate(cfg.validation, batchSize)
			stats.Metrics["val_loss"] = valLoss
			for ii, metric := range m.metrics {
				stats.Metrics["val_"+metric.ShortName()] = valMetrics[ii]
			}
		}
		history.Epochs = append(history.Epochs, stats)
		for _, listener := range cfg.listeners {
			listener.OnEpochEnd(stats)
		}
	}
	for _, listener := range cfg.listeners {
		listener.OnTrainEnd(history)
	}
	return history
}

// Evaluate runs the model forward over the dataset and returns the
// batch-weighted mean loss (key "loss") and metrics (keyed by short name).
func (m *Sequential) Evaluate(ds datasets.Dataset, batchSize int) (results map[string]float64, err error) {
	err = exceptions.TryCatch[error](func() {
		m.checkState("Evaluate", stateCompiled)
		loss, metricValues := m.evaluate(ds, batchSize)
		results = make(map[string]float64, 1+len(m.metrics))
		results["loss"] = loss
		for ii, metric := range m.metrics {
			results[metric.ShortName()] = metricValues[ii]
		}
	})
	if err != nil {
		return nil, err
	}
	return
}

func (m *Sequential) evaluate(ds datasets.Dataset, batchSize int) (loss float64, metricValues []float64) {
	numExamples := ds.NumExamples()
	numBatches := numBatchesFor(numExamples, batchSize)
	var lossAcc metrics.MeanAccumulator
	metricAccs := make([]metrics.MeanAccumulator, len(m.metrics))
	for batch := 0; batch < numBatches; batch++ {
		from := batch * batchSize
		to := min(from+batchSize, numExamples)
		x, y := ds.BatchWindow(from, to)
		outputs := m.evalExec.CallOrThrow(x, y)
		weight := float64(to - from)
		lossAcc.Add(metrics.ScalarToFloat64(outputs[0]), weight)
		for ii := range m.metrics {
			metricAccs[ii].Add(metrics.ScalarToFloat64(outputs[1+ii]), weight)
		}
	}
	metricValues = make([]float64, len(m.metrics))
	for ii := range metricAccs {
		metricValues[ii] = metricAccs[ii].Mean()
	}
	return lossAcc.Mean(), metricValues
}

func (m *Sequential) metricShortNames() []string {
	names := make([]string, len(m.metrics))
	for ii, metric := range m.metrics {
		names[ii] = metric.ShortName()
	}
	return names
}

// numBatchesFor is ceil(numExamples / batchSize). A non-positive batch size
// is rejected here so both Fit and Evaluate check it.
func numBatchesFor(numExamples, batchSize int) int {
	if batchSize <= 0 {
		xerrors.ThrowInvalidParamf("model: batch size must be positive, got %d", batchSize)
	}
	return (numExamples + batchSize - 1) / batchSize
}
