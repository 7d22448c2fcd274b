// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"io"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/pkg/errors"
)

// Column names of the history table.
const (
	EpochCol       = "epoch"
	LossCol        = "loss"
	AccuracyCol    = "accuracy"
	ValLossCol     = "val_loss"
	ValAccuracyCol = "val_accuracy"
)

// HistoryDataFrame converts the training history to a table with one row per epoch (1-based).
func HistoryDataFrame(history *trainer.History) dataframe.DataFrame {
	return dataframe.New(
		series.New(history.Epochs(), series.Int, EpochCol),
		series.New(history.Loss, series.Float, LossCol),
		series.New(history.Accuracy, series.Float, AccuracyCol),
		series.New(history.ValLoss, series.Float, ValLossCol),
		series.New(history.ValAccuracy, series.Float, ValAccuracyCol),
	)
}

// WriteHistory writes the training history as CSV, with a header line.
func WriteHistory(w io.Writer, history *trainer.History) error {
	if history.Len() == 0 {
		return ErrEmptyHistory
	}
	df := HistoryDataFrame(history)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building history table")
	}
	return errors.Wrap(df.WriteCSV(w), "writing history table")
}

// WriteHistoryCSV writes the training history as a CSV file.
func WriteHistoryCSV(history *trainer.History, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err = WriteHistory(f, history); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}
