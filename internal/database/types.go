// Package database loads the controller's XML catalog into a queryable
// set of areas and outputs, with cached fetches and name-normalization
// filters.
package database

import "errors"

var (
	ErrNoData        = errors.New("database: no xml data available")
	ErrFetchFailed   = errors.New("database: fetch failed")
	ErrUnknownFilter = errors.New("database: unknown filter")
	ErrBadFilterArgs = errors.New("database: bad filter arguments")
)

// EntityType classifies a catalog entity.
type EntityType string

const (
	EntityArea       EntityType = "area"
	EntityOutput     EntityType = "output"
	EntityDevice     EntityType = "device"
	EntityShadeGroup EntityType = "shade_group"
)

// Entity is one catalog row. DBID is the IntegrationID when the export
// carries one, otherwise a synthetic hash of the tree position, so rows
// stay addressable across reloads either way.
type Entity struct {
	DBID       string
	IID        int64
	Name       string
	Type       EntityType
	Subtype    string
	SortOrder  int
	ParentDBID string
	// Path is the area chain down to this entity, segments joined
	// with " / ".
	Path string
}

// Area is the query-facing projection of an area entity.
type Area struct {
	IID  int64  `json:"iid"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Output is the query-facing projection of an output entity.
type Output struct {
	IID        int64  `json:"iid"`
	OutputType string `json:"output_type"`
	Name       string `json:"name"`
	Path       string `json:"path"`
}
