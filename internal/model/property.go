package model

import "time"

// PropertyKind represents the value type of a Spira custom property
type PropertyKind string

const (
	PropertyText         PropertyKind = "text"
	PropertyInteger      PropertyKind = "integer"
	PropertyDecimal      PropertyKind = "decimal"
	PropertyBoolean      PropertyKind = "boolean"
	PropertyDate         PropertyKind = "date"
	PropertySingleSelect PropertyKind = "single_select"
	PropertyMultiSelect  PropertyKind = "multi_select"
	PropertyUser         PropertyKind = "user"
)

// PropertyValue is a custom-property value keyed by its property id. Kind
// selects which value field is meaningful; the rest are zero.
type PropertyValue struct {
	PropertyID int64        `json:"property_id"`
	Kind       PropertyKind `json:"kind"`
	Text       string       `json:"text,omitempty"`
	Integer    int64        `json:"integer,omitempty"`
	Decimal    float64      `json:"decimal,omitempty"`
	Boolean    bool         `json:"boolean,omitempty"`
	Date       time.Time    `json:"date,omitempty"`
	OptionID   int64        `json:"option_id,omitempty"`
	OptionIDs  []int64      `json:"option_ids,omitempty"`
	UserID     int64        `json:"user_id,omitempty"`
}
