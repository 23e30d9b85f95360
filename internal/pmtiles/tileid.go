package pmtiles

// zoomBase returns the ID of the first tile at zoom z: the number of tiles
// at all lower zooms.
func zoomBase(z int) uint64 {
	// Sum of 4^i for i < z.
	return ((uint64(1) << (2 * uint(z))) - 1) / 3
}

// ZXYToTileID converts z/x/y to a v3 tile ID: zoomBase(z) plus the position
// of (x, y) on the Hilbert curve filling the 2^z grid.
func ZXYToTileID(z, x, y int) uint64 {
	n := uint64(1) << uint(z)
	tx, ty := uint64(x), uint64(y)
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		rx := boolToUint(tx&s != 0)
		ry := boolToUint(ty&s != 0)
		d += s * s * ((3 * rx) ^ ry)
		tx, ty = rotate(n, tx, ty, rx, ry)
	}
	return zoomBase(z) + d
}

// TileIDToZXY is the inverse of ZXYToTileID.
func TileIDToZXY(id uint64) (z, x, y int) {
	for z = 0; zoomBase(z+1) <= id; z++ {
	}
	d := id - zoomBase(z)
	n := uint64(1) << uint(z)

	var tx, ty uint64
	for s := uint64(1); s < n; s *= 2 {
		rx := 1 & (d / 2)
		ry := 1 & (d ^ rx)
		tx, ty = rotate(s, tx, ty, rx, ry)
		tx += s * rx
		ty += s * ry
		d /= 4
	}
	return z, int(tx), int(ty)
}

func rotate(n, x, y, rx, ry uint64) (uint64, uint64) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		x, y = y, x
	}
	return x, y
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
