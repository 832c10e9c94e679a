// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/ml/models"
	"github.com/gomlx/stax/ui/plots"
)

func fakeHistory() *models.History {
	history := &models.History{}
	for epoch := 0; epoch < 5; epoch++ {
		history.Epochs = append(history.Epochs, models.EpochStats{
			Epoch: epoch,
			Loss:  1.0 / float64(epoch+1),
			Metrics: map[string]float64{
				"acc": float64(epoch) / 5,
			},
		})
	}
	return history
}

func TestHistorySVG(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, plots.HistorySVG(fakeHistory(), &sb))
	out := sb.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "acc")
	assert.Contains(t, out, "loss")
}

func TestRenderEmptyHistory(t *testing.T) {
	var sb strings.Builder
	err := plots.New(640, 480).LogScaleY().Render(&models.History{}, &sb)
	require.Error(t, err)
}
