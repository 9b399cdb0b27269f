package raster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/globaltraits/trait-ingester/service/log"
	"go.uber.org/zap/zapcore"
)

// Output profile of every raster written locally: tiled cloud-friendly
// GeoTIFF with ZSTD compression and an overview pyramid.
var (
	creationOptions = []string{
		"-co", "TILED=YES",
		"-co", "BLOCKXSIZE=256",
		"-co", "BLOCKYSIZE=256",
		"-co", "COMPRESS=ZSTD",
		"-co", "NUM_THREADS=ALL_CPUS",
	}
	overviewLevels = []int{2, 4, 8, 16, 32}
)

// GDAL shells out to the gdal command-line tools for local raster work
type GDAL struct{}

// warpArgs builds the gdalwarp invocation. -overwrite is required: without
// it gdalwarp mosaics into an existing destination instead of replacing it.
func warpArgs(parts []string, outFile string) []string {
	args := append([]string{"-overwrite", "-of", "GTiff"}, creationOptions...)
	args = append(args, parts...)
	return append(args, outFile)
}

// Merge combines the split parts into a single GeoTIFF at outFile and
// removes the parts. Paths are absolute or relative to the working dir.
func (GDAL) Merge(ctx context.Context, parts []string, outFile string) error {
	if len(parts) == 0 {
		return fmt.Errorf("Merge: no parts for %s", outFile)
	}

	cmd := exec.CommandContext(ctx, "gdalwarp", warpArgs(parts, outFile)...)
	if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel)); err != nil {
		os.Remove(outFile)
		return fmt.Errorf("Merge.gdalwarp[%s]: %w", outFile, err)
	}

	if err := AddOverviews(ctx, outFile); err != nil {
		return fmt.Errorf("Merge.%w", err)
	}

	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			return fmt.Errorf("Merge.Remove[%s]: %w", part, err)
		}
	}
	return nil
}

// AddOverviews builds the overview pyramid with average resampling
func AddOverviews(ctx context.Context, rasterFile string) error {
	args := []string{"-r", "average", rasterFile}
	for _, l := range overviewLevels {
		args = append(args, strconv.Itoa(l))
	}
	cmd := exec.CommandContext(ctx, "gdaladdo", args...)
	if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel)); err != nil {
		return fmt.Errorf("AddOverviews.gdaladdo[%s]: %w", rasterFile, err)
	}
	return nil
}
