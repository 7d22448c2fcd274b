// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Param is a hyperparameter stored in a model file.
type Param struct {
	Scope, Key string
	Value      any
}

// VariableInfo describes one variable stored in a model file.
type VariableInfo struct {
	Scope, Name string
	Shape       string
	Size        int   // Number of elements.
	Bytes       int64 // Memory used.
}

// Info is the description of a model file, as returned by Inspect.
type Info struct {
	Path      string
	FileSize  int64
	Manifest  Manifest
	Params    []Param
	Variables []VariableInfo

	// TotalSize is the number of elements of all variables, TotalBytes their memory.
	TotalSize  int
	TotalBytes int64
}

// Inspect loads the model file into a scratch context and describes its contents.
func Inspect(path string) (*Info, error) {
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	ctx := context.New()
	if err := b.LoadInto(ctx); err != nil {
		return nil, err
	}
	info := &Info{Path: path, FileSize: b.Size, Manifest: b.Manifest}
	ctx.EnumerateParams(func(scope, key string, value any) {
		info.Params = append(info.Params, Param{Scope: scope, Key: key, Value: value})
	})
	slices.SortFunc(info.Params, func(a, b Param) int {
		if c := strings.Compare(a.Scope, b.Scope); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	for v := range ctx.IterVariables() {
		shape := v.Shape()
		vi := VariableInfo{
			Scope: v.Scope(),
			Name:  v.Name(),
			Shape: shape.String(),
			Size:  shape.Size(),
			Bytes: int64(shape.Memory()),
		}
		info.Variables = append(info.Variables, vi)
		info.TotalSize += vi.Size
		info.TotalBytes += vi.Bytes
	}
	slices.SortFunc(info.Variables, func(a, b VariableInfo) int {
		return strings.Compare(a.Scope+"/"+a.Name, b.Scope+"/"+b.Name)
	})
	return info, nil
}

// Param returns the value of the parameter with the given key (any scope), and whether it was found.
func (info *Info) Param(key string) (any, bool) {
	for _, p := range info.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// String implements fmt.Stringer.
func (info *Info) String() string {
	return fmt.Sprintf("%s: version %d, %d classes, %d variables with %d parameters",
		info.Path, info.Manifest.FormatVersion, info.Manifest.NumClasses, len(info.Variables), info.TotalSize)
}
