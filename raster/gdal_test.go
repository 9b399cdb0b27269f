package raster

import (
	"testing"
)

func TestWarpArgs(t *testing.T) {
	args := warpArgs([]string{"p1.tif", "p2.tif"}, "out.tif")

	// A stale destination must be replaced, never mosaicked into
	if args[0] != "-overwrite" {
		t.Errorf("gdalwarp must run with -overwrite, got %v", args)
	}
	if args[len(args)-1] != "out.tif" {
		t.Errorf("destination must come last, got %v", args)
	}
	if args[len(args)-3] != "p1.tif" || args[len(args)-2] != "p2.tif" {
		t.Errorf("parts must precede the destination, got %v", args)
	}

	for _, co := range []string{"TILED=YES", "BLOCKXSIZE=256", "BLOCKYSIZE=256", "COMPRESS=ZSTD"} {
		found := false
		for _, a := range args {
			if a == co {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("creation option %s missing from %v", co, args)
		}
	}
}
