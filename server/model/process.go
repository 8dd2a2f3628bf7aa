// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package model holds the JSON body of a processing API request. The harness builds it and
// the mock API binds it.
package model

// ProcessRequest is the body POSTed to the processing endpoint.
type ProcessRequest struct {
	Input      Input  `json:"input" binding:"required"`
	Output     Output `json:"output" binding:"required"`
	Evalscript string `json:"evalscript" binding:"required"`
}

// Input selects the area of interest and the data sources.
type Input struct {
	Bounds Bounds       `json:"bounds" binding:"required"`
	Data   []DataSource `json:"data" binding:"required,min=1,dive"`
}

// Bounds is a bounding box in the given CRS: minX, minY, maxX, maxY.
type Bounds struct {
	Properties BoundsProperties `json:"properties" binding:"required"`
	BBox       [4]float64       `json:"bbox"`
}

type BoundsProperties struct {
	CRS string `json:"crs" binding:"required"`
}

// DataSource describes one data collection and how to sample it.
type DataSource struct {
	DataFilter DataFilter `json:"dataFilter" binding:"required"`
	Processing Processing `json:"processing"`
	Type       string     `json:"type" binding:"required"`
}

type DataFilter struct {
	TimeRange        TimeRange `json:"timeRange" binding:"required"`
	MosaickingOrder  string    `json:"mosaickingOrder,omitempty"`
	PreviewMode      string    `json:"previewMode,omitempty"`
	MaxCloudCoverage float64   `json:"maxCloudCoverage" binding:"min=0,max=100"`
}

type TimeRange struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type Processing struct {
	Upsampling   string `json:"upsampling,omitempty"`
	Downsampling string `json:"downsampling,omitempty"`
}

// Output describes the rendered raster.
type Output struct {
	Width     int              `json:"width" binding:"required,min=1"`
	Height    int              `json:"height" binding:"required,min=1"`
	Responses []OutputResponse `json:"responses" binding:"required,min=1,dive"`
}

type OutputResponse struct {
	Identifier string `json:"identifier" binding:"required"`
	Format     Format `json:"format" binding:"required"`
}

type Format struct {
	Type string `json:"type" binding:"required"`
}
