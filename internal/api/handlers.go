package api

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/query"
)

// FromStructCellNames reads the optional "cells" list. An empty list selects every cell.
func FromStructCellNames(req *structpb.Struct) ([]string, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	return stringList(req, "cells")
}

// FromStructRunID reads the required "run_id" field.
func FromStructRunID(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	v, ok := req.GetFields()["run_id"]
	if !ok || v.GetStringValue() == "" {
		return "", fmt.Errorf("run_id is required")
	}
	return v.GetStringValue(), nil
}

// FromStructQuery maps a query request:
//
//	{"cells": [...], "criteria": [{"property": "sweep_time", "condition": "<150"}],
//	 "response_properties": [...], "spike_categories": [...],
//	 "cell_properties": [...], "rheobase": false}
//
// A numeric condition means equality.
func FromStructQuery(req *structpb.Struct) ([]string, query.Spec, error) {
	var spec query.Spec
	names, err := FromStructCellNames(req)
	if err != nil {
		return nil, spec, err
	}
	fields := req.GetFields()

	if v, ok := fields["criteria"]; ok {
		list := v.GetListValue()
		if list == nil {
			return nil, spec, fmt.Errorf("criteria must be a list")
		}
		for i, item := range list.GetValues() {
			obj := item.GetStructValue()
			if obj == nil {
				return nil, spec, fmt.Errorf("criteria[%d] must be an object", i)
			}
			prop := obj.GetFields()["property"].GetStringValue()
			cond, err := conditionString(obj.GetFields()["condition"])
			if err != nil {
				return nil, spec, fmt.Errorf("criteria[%d]: %w", i, err)
			}
			crit, err := ephys.ParseCriterion(prop, cond)
			if err != nil {
				return nil, spec, err
			}
			spec.ResponseCriteria = append(spec.ResponseCriteria, crit)
		}
	}
	if spec.ResponseProperties, err = stringList(req, "response_properties"); err != nil {
		return nil, spec, err
	}
	if spec.SpikeCategories, err = stringList(req, "spike_categories"); err != nil {
		return nil, spec, err
	}
	if spec.CellProperties, err = stringList(req, "cell_properties"); err != nil {
		return nil, spec, err
	}
	spec.Rheobase = fields["rheobase"].GetBoolValue()
	return names, spec, nil
}

func conditionString(v *structpb.Value) (string, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("condition must be a string or number")
	}
}

func stringList(req *structpb.Struct, key string) ([]string, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", key, i)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// number encodes NaN and infinities as null.
func number(v float64) *structpb.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(v)
}

func stringValues(values []string) *structpb.Value {
	out := make([]*structpb.Value, len(values))
	for i, v := range values {
		out[i] = structpb.NewStringValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

func ints(values []int) *structpb.Value {
	out := make([]*structpb.Value, len(values))
	for i, v := range values {
		out[i] = structpb.NewNumberValue(float64(v))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

func object(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// ToStructRun converts a classification run.
func ToStructRun(run models.ClassificationRun) *structpb.Struct {
	results := make([]*structpb.Value, 0, len(run.Results))
	for _, c := range run.Results {
		buckets := make([]*structpb.Value, 0, len(c.Buckets))
		for _, b := range c.Buckets {
			buckets = append(buckets, object(map[string]*structpb.Value{
				"num_spikes": structpb.NewNumberValue(float64(b.NumSpikes)),
				"score":      number(b.Score),
				"left":       number(b.Left),
				"right":      number(b.Right),
				"label":      structpb.NewStringValue(string(b.Label)),
			}))
		}
		fields := map[string]*structpb.Value{
			"cell":             structpb.NewStringValue(c.Cell),
			"genetic_marker":   structpb.NewStringValue(c.GeneticMarker),
			"ca_buffer":        structpb.NewStringValue(c.CaBuffer),
			"label":            structpb.NewStringValue(string(c.Label)),
			"max_rebound_time": number(c.MaxReboundTime),
			"buckets":          structpb.NewListValue(&structpb.ListValue{Values: buckets}),
		}
		if c.Error != "" {
			fields["error"] = structpb.NewStringValue(c.Error)
		}
		results = append(results, object(fields))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":     structpb.NewStringValue(run.RunID),
		"created_at": structpb.NewStringValue(run.CreatedAt.UTC().Format(time.RFC3339Nano)),
		"results":    structpb.NewListValue(&structpb.ListValue{Values: results}),
	}}
}

// ToStructTable converts a query table identified by id.
func ToStructTable(id string, t *query.Table) *structpb.Struct {
	rows := make([]*structpb.Value, 0, len(t.Rows))
	for _, r := range t.Rows {
		labels := make(map[string]*structpb.Value, len(r.Labels))
		for k, v := range r.Labels {
			labels[k] = structpb.NewStringValue(v)
		}
		values := make(map[string]*structpb.Value, len(r.Values))
		for k, v := range r.Values {
			values[k] = number(v)
		}
		rows = append(rows, object(map[string]*structpb.Value{
			"cell":            structpb.NewStringValue(r.Cell),
			"labels":          object(labels),
			"values":          object(values),
			"analyzed_sweeps": ints(r.AnalyzedSweeps),
		}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      structpb.NewStringValue(id),
		"columns": stringValues(t.Columns),
		"rows":    structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}
}

// ToStructHealth builds a health response.
func ToStructHealth(status string, p95 time.Duration) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"status":         structpb.NewStringValue(status),
		"latency_p95_ms": structpb.NewNumberValue(float64(p95) / float64(time.Millisecond)),
	}}
}
