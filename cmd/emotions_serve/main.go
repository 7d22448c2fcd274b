// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// emotions_serve serves a trained emotion classifier over HTTP. See package server for the API.
//
// If image files are given as arguments, it classifies them and exits instead.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gomlx/emotions/pkg/classifier"
	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/server"
	"github.com/gomlx/gomlx/backends"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagModel = flag.String("model", config.DefaultModelFile, "Model file to serve.")
	flagAddr  = flag.String("addr", ":8000", "Address to listen to.")
	flagDebug = flag.Bool("debug", false, "Run gin in debug mode.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	backend := backends.MustNew()
	c, err := classifier.New(*flagModel, backend)
	if err != nil {
		klog.Errorf("Failed to load model: %+v", err)
		os.Exit(1)
	}
	klog.Infof("Model %q loaded: classes %v, images %dx%d", *flagModel, c.Classes(), c.ImageSize(), c.ImageSize())

	if flag.NArg() > 0 {
		classifyFiles(c, flag.Args())
		return
	}

	if !*flagDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	klog.Infof("Listening on %s", *flagAddr)
	if err := server.NewRouter(c).Run(*flagAddr); err != nil {
		klog.Errorf("Server stopped: %v", err)
		os.Exit(1)
	}
}

func classifyFiles(c *classifier.Classifier, paths []string) {
	failed := false
	for _, path := range paths {
		p, err := c.ClassifyFile(path)
		if err != nil {
			klog.Errorf("%q: %v", path, err)
			failed = true
			continue
		}
		percentages := p.Percentages()
		parts := make([]string, 0, len(percentages))
		for _, name := range c.Classes() {
			parts = append(parts, fmt.Sprintf("%s=%d%%", name, percentages[name]))
		}
		fmt.Printf("%s: %s (%.1f%%)\t%s\n", path, p.Class, 100*p.Confidence, strings.Join(parts, " "))
	}
	if failed {
		os.Exit(1)
	}
}
