// Package grid maps a site's rectangular zone grid onto real-world
// coordinates. Distances use a local equirectangular approximation around the
// anchor point, which is accurate at city scale but not valid at polar
// latitudes; sites are assumed to be far from the poles.
package grid

import (
	"errors"
	"math"
)

const earthRadiusM = 6371000

// Grid describes a site's cell layout: anchor corner, rotation of the grid
// axes relative to east/north, dimensions, and per-cell spacing in meters.
type Grid struct {
	AnchorLat   float64
	AnchorLng   float64
	RotationDeg float64
	Rows        int
	Cols        int
	SpacingM    float64
}

var (
	// ErrInvalidCoordinate rejects malformed input before any geometry math.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidGrid rejects grids with non-positive dimensions or spacing.
	ErrInvalidGrid = errors.New("invalid grid parameters")
	// ErrCellOutOfRange rejects cell indices outside [0,rows)x[0,cols).
	ErrCellOutOfRange = errors.New("cell out of range")
)

func (g Grid) validate() error {
	if g.Rows <= 0 || g.Cols <= 0 || g.SpacingM <= 0 {
		return ErrInvalidGrid
	}
	if err := checkLatLng(g.AnchorLat, g.AnchorLng); err != nil {
		return ErrInvalidGrid
	}
	return nil
}

// CellToCoordinate returns the real-world coordinate of the center of cell
// (row, col), rotation applied around the anchor.
func (g Grid) CellToCoordinate(row, col int) (lat, lng float64, err error) {
	if err := g.validate(); err != nil {
		return 0, 0, err
	}
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, 0, ErrCellOutOfRange
	}

	u := (float64(col) + 0.5) * g.SpacingM
	v := (float64(row) + 0.5) * g.SpacingM

	theta := g.RotationDeg * math.Pi / 180
	x := u*math.Cos(theta) - v*math.Sin(theta)
	y := u*math.Sin(theta) + v*math.Cos(theta)

	lat = g.AnchorLat + (y/earthRadiusM)*(180/math.Pi)
	lng = g.AnchorLng + (x/(earthRadiusM*math.Cos(g.AnchorLat*math.Pi/180)))*(180/math.Pi)
	return lat, lng, nil
}

// CoordinateToCell inverts CellToCoordinate. The grid uses closed-open
// intervals: a coordinate exactly on a cell's lower edge belongs to that
// cell. Coordinates outside the rotated grid rectangle return ok=false, never
// a clamped cell.
func (g Grid) CoordinateToCell(lat, lng float64) (row, col int, ok bool, err error) {
	if err := g.validate(); err != nil {
		return 0, 0, false, err
	}
	if err := checkLatLng(lat, lng); err != nil {
		return 0, 0, false, err
	}

	dy := (lat - g.AnchorLat) * math.Pi / 180 * earthRadiusM
	dx := (lng - g.AnchorLng) * math.Pi / 180 * earthRadiusM * math.Cos(g.AnchorLat*math.Pi/180)

	theta := g.RotationDeg * math.Pi / 180
	u := dx*math.Cos(theta) + dy*math.Sin(theta)
	v := -dx*math.Sin(theta) + dy*math.Cos(theta)

	col = int(math.Floor(u / g.SpacingM))
	row = int(math.Floor(v / g.SpacingM))
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, 0, false, nil
	}
	return row, col, true, nil
}

func checkLatLng(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}
