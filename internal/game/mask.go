package game

import (
	"fmt"
	"math"
	"math/rand"

	"emberfall/internal/protocol"
)

// TileMask is the collision grid the simulation resolves movement
// against. Row-major; true means blocked. The mask never changes after
// world construction, so reads are safe from any goroutine.
type TileMask struct {
	Width    int
	Height   int
	TileSize float64
	blocked  []bool
}

// NewBorderMask builds a mask of the given tile dimensions with a solid
// one-tile border and optional seeded interior obstacles. density is the
// fraction of interior tiles blocked (0 disables obstacles).
func NewBorderMask(width, height int, tileSize float64, seed int64, density float64) *TileMask {
	m := &TileMask{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		blocked:  make([]bool, width*height),
	}
	for x := 0; x < width; x++ {
		m.blocked[x] = true
		m.blocked[(height-1)*width+x] = true
	}
	for y := 0; y < height; y++ {
		m.blocked[y*width] = true
		m.blocked[y*width+width-1] = true
	}
	if density > 0 {
		rng := rand.New(rand.NewSource(seed))
		for y := 2; y < height-2; y++ {
			for x := 2; x < width-2; x++ {
				if rng.Float64() < density {
					m.blocked[y*width+x] = true
				}
			}
		}
	}
	return m
}

// MaskFromUpload validates a client-provided collision mask. Dimensions
// are capped to keep a hostile upload from exhausting memory.
func MaskFromUpload(up protocol.CollisionMask) (*TileMask, error) {
	const maxDim = 1024
	if up.Width <= 0 || up.Height <= 0 || up.Width > maxDim || up.Height > maxDim {
		return nil, fmt.Errorf("%w: mask dimensions %dx%d", protocol.ErrValidation, up.Width, up.Height)
	}
	if up.TileSize <= 0 || up.TileSize > 256 {
		return nil, fmt.Errorf("%w: mask tile size %d", protocol.ErrValidation, up.TileSize)
	}
	if len(up.Tiles) != up.Width*up.Height {
		return nil, fmt.Errorf("%w: mask has %d tiles, want %d", protocol.ErrValidation, len(up.Tiles), up.Width*up.Height)
	}
	m := &TileMask{
		Width:    up.Width,
		Height:   up.Height,
		TileSize: float64(up.TileSize),
		blocked:  make([]bool, len(up.Tiles)),
	}
	for i, t := range up.Tiles {
		m.blocked[i] = t != 0
	}
	return m, nil
}

// Blocked reports whether the tile at (tx, ty) is solid. Out-of-bounds
// tiles are solid.
func (m *TileMask) Blocked(tx, ty int) bool {
	if tx < 0 || ty < 0 || tx >= m.Width || ty >= m.Height {
		return true
	}
	return m.blocked[ty*m.Width+tx]
}

// BlockedAt reports whether the world position (x, y) lies in a solid tile.
func (m *TileMask) BlockedAt(x, y float64) bool {
	return m.Blocked(int(x/m.TileSize), int(y/m.TileSize))
}

// BlockedCircle reports whether a body circle at (x, y) overlaps any
// solid tile, sampling the four cardinal extremes plus the center.
func (m *TileMask) BlockedCircle(x, y, r float64) bool {
	return m.BlockedAt(x, y) ||
		m.BlockedAt(x-r, y) || m.BlockedAt(x+r, y) ||
		m.BlockedAt(x, y-r) || m.BlockedAt(x, y+r)
}

// WorldBounds returns the mask extent in world units.
func (m *TileMask) WorldBounds() (w, h float64) {
	return float64(m.Width) * m.TileSize, float64(m.Height) * m.TileSize
}

// TileAt converts a world position to tile coordinates.
func (m *TileMask) TileAt(x, y float64) TilePoint {
	return TilePoint{X: int(x / m.TileSize), Y: int(y / m.TileSize)}
}

// TileCenter converts tile coordinates to the tile's world-space center.
func (m *TileMask) TileCenter(p TilePoint) (x, y float64) {
	return (float64(p.X) + 0.5) * m.TileSize, (float64(p.Y) + 0.5) * m.TileSize
}

// LineOfSight reports whether the segment between two world points
// crosses no solid tile, stepping at half-tile resolution.
func (m *TileMask) LineOfSight(x1, y1, x2, y2 float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	dist := dx*dx + dy*dy
	if dist == 0 {
		return !m.BlockedAt(x1, y1)
	}
	step := m.TileSize / 2
	steps := int(math.Sqrt(dist)/step) + 1
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		if m.BlockedAt(x1+dx*f, y1+dy*f) {
			return false
		}
	}
	return true
}
