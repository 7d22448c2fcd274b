// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// emotions_inspect prints the manifest, hyperparameters and variables of model files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/emotions/pkg/bundle"
	"github.com/gomlx/emotions/ui/console"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if flag.NArg() == 0 {
		klog.Errorf("Missing model file to inspect. See 'emotions_inspect -help'")
		os.Exit(1)
	}
	failed := false
	for _, path := range flag.Args() {
		info, err := bundle.Inspect(path)
		if err != nil {
			klog.Errorf("Failed to inspect %q: %+v", path, err)
			failed = true
			continue
		}
		fmt.Println(console.ModelInfo(info))
	}
	if failed {
		os.Exit(1)
	}
}
