package grid

import (
	"math"
	"testing"
)

func seoulGrid(rotation float64) Grid {
	return Grid{
		AnchorLat:   37.5665,
		AnchorLng:   126.9780,
		RotationDeg: rotation,
		Rows:        5,
		Cols:        5,
		SpacingM:    20,
	}
}

func TestRoundTripAllCells(t *testing.T) {
	for _, rotation := range []float64{0, 30, 90, 217.5} {
		g := seoulGrid(rotation)
		for row := 0; row < g.Rows; row++ {
			for col := 0; col < g.Cols; col++ {
				lat, lng, err := g.CellToCoordinate(row, col)
				if err != nil {
					t.Fatalf("rotation %v: CellToCoordinate(%d,%d): %v", rotation, row, col, err)
				}
				gotRow, gotCol, ok, err := g.CoordinateToCell(lat, lng)
				if err != nil {
					t.Fatalf("rotation %v: CoordinateToCell: %v", rotation, err)
				}
				if !ok || gotRow != row || gotCol != col {
					t.Fatalf("rotation %v: round trip (%d,%d) -> (%d,%d, ok=%v)", rotation, row, col, gotRow, gotCol, ok)
				}
			}
		}
	}
}

func TestAnchorResolvesToOrigin(t *testing.T) {
	g := seoulGrid(0)
	row, col, ok, err := g.CoordinateToCell(g.AnchorLat, g.AnchorLng)
	if err != nil {
		t.Fatalf("CoordinateToCell: %v", err)
	}
	if !ok || row != 0 || col != 0 {
		t.Fatalf("anchor resolved to (%d,%d, ok=%v), want (0,0)", row, col, ok)
	}
}

func TestOutsideGridReturnsNone(t *testing.T) {
	g := seoulGrid(0)

	// One kilometer north of the anchor is well past a 100 m grid.
	lat := g.AnchorLat + 1000.0/earthRadiusM*(180/math.Pi)
	if _, _, ok, err := g.CoordinateToCell(lat, g.AnchorLng); err != nil || ok {
		t.Fatalf("expected no match north of grid, got ok=%v err=%v", ok, err)
	}

	// Just below/left of the anchor.
	if _, _, ok, err := g.CoordinateToCell(g.AnchorLat-0.0005, g.AnchorLng); err != nil || ok {
		t.Fatalf("expected no match south of anchor, got ok=%v err=%v", ok, err)
	}

	// Outside after inverse rotation: a point that would be inside an
	// unrotated grid but is outside once axes are rotated 45 degrees.
	rot := seoulGrid(45)
	lat, lng, err := seoulGrid(0).CellToCoordinate(0, 4)
	if err != nil {
		t.Fatalf("CellToCoordinate: %v", err)
	}
	if _, _, ok, err := rot.CoordinateToCell(lat, lng); err != nil || ok {
		t.Fatalf("expected no match outside rotated rectangle, got ok=%v err=%v", ok, err)
	}
}

func TestBoundaryBelongsToHigherCellEdge(t *testing.T) {
	g := seoulGrid(0)

	// Exactly one spacing north of the anchor: the shared edge between rows
	// 0 and 1 is the closed lower edge of row 1.
	lat := g.AnchorLat + g.SpacingM/earthRadiusM*(180/math.Pi)
	row, col, ok, err := g.CoordinateToCell(lat, g.AnchorLng)
	if err != nil {
		t.Fatalf("CoordinateToCell: %v", err)
	}
	if !ok || row != 1 || col != 0 {
		t.Fatalf("boundary resolved to (%d,%d, ok=%v), want (1,0)", row, col, ok)
	}
}

func TestRejectsMalformedInput(t *testing.T) {
	g := seoulGrid(0)

	for _, tc := range [][2]float64{
		{math.NaN(), 126.9780},
		{37.5665, math.Inf(1)},
		{91, 0},
		{0, 181},
	} {
		if _, _, _, err := g.CoordinateToCell(tc[0], tc[1]); err != ErrInvalidCoordinate {
			t.Fatalf("CoordinateToCell(%v,%v): expected ErrInvalidCoordinate, got %v", tc[0], tc[1], err)
		}
	}

	if _, _, err := g.CellToCoordinate(5, 0); err != ErrCellOutOfRange {
		t.Fatalf("expected ErrCellOutOfRange, got %v", err)
	}
	if _, _, err := g.CellToCoordinate(0, -1); err != ErrCellOutOfRange {
		t.Fatalf("expected ErrCellOutOfRange, got %v", err)
	}

	bad := Grid{Rows: 0, Cols: 5, SpacingM: 20}
	if _, _, _, err := bad.CoordinateToCell(0, 0); err != ErrInvalidGrid {
		t.Fatalf("expected ErrInvalidGrid, got %v", err)
	}
}
