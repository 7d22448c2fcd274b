// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// emotions_convert re-saves a model file in the current format version, keeping its variables and
// hyperparameters.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/emotions/pkg/convert"
	"github.com/gomlx/gomlx/backends"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagSrc = flag.String("src", convert.DefaultReconvertSource, "Model file to convert.")
	flagDst = flag.String("dst", convert.DefaultReconvertTarget, "Converted model file. It is overwritten if it exists.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := convert.Reconvert(*flagSrc, *flagDst, backends.MustNew()); err != nil {
		klog.Errorf("Failed to convert %q: %+v", *flagSrc, err)
		os.Exit(1)
	}
	fmt.Printf("Model %q converted to %q\n", *flagSrc, *flagDst)
}
