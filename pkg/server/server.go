// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package server exposes a classifier.Classifier as an HTTP API:
//
//   - POST /detect-emotions: classifies the image uploaded in the multipart form field "file". It returns a JSON
//     object with the integer percentage of each class, plus "dominant" (the most probable class) and
//     "elapsed_ms".
//   - GET /model: describes the model being served.
//   - GET /healthz: returns "OK".
//
// Errors are returned as JSON objects with "code" and "message".
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomlx/emotions/pkg/classifier"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileField is the multipart form field holding the image.
const FileField = "file"

// DefaultMaxMultipartMemory is the maximum memory used to parse an upload, the rest goes to temporary files.
const DefaultMaxMultipartMemory = 8 << 20

// Response keys added to the class percentages.
const (
	DominantKey  = "dominant"
	ElapsedMSKey = "elapsed_ms"
)

// APIs holds the handlers of the server.
type APIs struct {
	C *classifier.Classifier
}

// NewRouter returns the gin.Engine serving the API for c.
func NewRouter(c *classifier.Classifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = DefaultMaxMultipartMemory

	a := &APIs{C: c}
	r.POST("/detect-emotions", a.DetectEmotions)
	r.GET("/model", a.ShowModel)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	return r
}

// requestLogger logs each request with klog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.V(1).Infof("%s %s: %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// DetectEmotions classifies the uploaded image.
func (a *APIs) DetectEmotions(c *gin.Context) {
	start := time.Now()
	file, _, err := c.Request.FormFile(FileField)
	if err != nil {
		Error(c, http.StatusBadRequest, errors.Wrapf(err, "missing image in form field %q", FileField))
		return
	}
	defer func() { _ = file.Close() }()

	prediction, err := a.C.ClassifyReader(file)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	response := gin.H{}
	for class, percent := range prediction.Percentages() {
		response[class] = percent
	}
	response[DominantKey] = prediction.Class
	response[ElapsedMSKey] = time.Since(start).Milliseconds()
	c.JSON(http.StatusOK, response)
}

// ModelInfo is returned by GET /model.
type ModelInfo struct {
	Classes       []string  `json:"classes"`
	ImageSize     int       `json:"image_size"`
	RunID         string    `json:"run_id,omitempty"`
	FormatVersion int       `json:"format_version,omitempty"`
	Created       time.Time `json:"created"`
}

// ShowModel describes the model served.
func (a *APIs) ShowModel(c *gin.Context) {
	c.JSON(http.StatusOK, ModelInfo{
		Classes:       a.C.Classes(),
		ImageSize:     a.C.ImageSize(),
		RunID:         a.C.Manifest.RunID,
		FormatVersion: a.C.Manifest.FormatVersion,
		Created:       a.C.Manifest.Created,
	})
}

// HTTPError is the body of error responses.
type HTTPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error aborts the request with a JSON error response.
func Error(c *gin.Context, status int, err error) {
	klog.Warningf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.AbortWithStatusJSON(status, HTTPError{Code: status, Message: err.Error()})
}
