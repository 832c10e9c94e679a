// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomlx/stax/ml/models"
	"github.com/gomlx/stax/ui/commandline"
)

func TestProgressBarListener(t *testing.T) {
	var sb strings.Builder
	listener := commandline.NewProgressBar(&sb)

	plan := models.Plan{
		DatasetName: "toy",
		NumExamples: 4,
		BatchSize:   2,
		NumBatches:  2,
		NumEpochs:   1,
	}
	listener.OnTrainBegin(plan)
	listener.OnEpochBegin(0)
	listener.OnBatchEnd(models.BatchStats{Epoch: 0, Batch: 0, BatchSize: 2, Loss: 0.5})
	listener.OnBatchEnd(models.BatchStats{Epoch: 0, Batch: 1, BatchSize: 2, Loss: 0.25})
	stats := models.EpochStats{Epoch: 0, Loss: 0.375, Metrics: map[string]float64{"acc": 0.5}}
	listener.OnEpochEnd(stats)
	listener.OnTrainEnd(&models.History{Epochs: []models.EpochStats{stats}})

	out := sb.String()
	assert.Contains(t, out, `Training on "toy"`)
	assert.Contains(t, out, "epoch 1/1")
	assert.Contains(t, out, "0.3750")
	assert.Contains(t, out, "acc")
}
