// cmd/test-convert generates a thumbnail for a local image file with the same
// codec and box as the thumbnailer service, without any of its stores.
//
// Usage:
//
//	./test-convert -input photo.png -output thumb.jpg
//	./test-convert -input photo.png -size 256 -quality 90
//	./test-convert -input photo.png -probe  # show fingerprint and dimensions only
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/url-thumbnailer/internal/fingerprint"
	"github.com/tendant/url-thumbnailer/internal/img"
)

func main() {
	input := flag.String("input", "", "Input image path (required)")
	output := flag.String("output", "", "Output thumbnail path (default: input_thumb.jpg)")
	size := flag.Int("size", img.DefaultWidth, "Thumbnail box size (width/height in pixels)")
	quality := flag.Int("quality", img.DefaultQuality, "JPEG quality (1-100)")
	probe := flag.Bool("probe", false, "Show fingerprint and dimensions only (don't convert)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	if *input == "" {
		fmt.Println("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*input); os.IsNotExist(err) {
		log.Fatalf("input file not found: %s", *input)
	}

	fp, n, err := fingerprintFile(*input)
	if err != nil {
		log.Fatalf("fingerprint: %v", err)
	}

	if *probe {
		fmt.Println("File Metadata:")
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("SHA-256: %s\n", fp)
		fmt.Printf("File Size: %s\n", formatBytes(n))
		if w, h, format, err := dimensions(*input); err == nil {
			fmt.Printf("Format: %s\n", format)
			fmt.Printf("Dimensions: %dx%d pixels\n", w, h)
		} else {
			fmt.Printf("Dimensions: unknown (%v)\n", err)
		}
		return
	}

	if *output == "" {
		*output = defaultOutput(*input)
	}
	if *verbose {
		fmt.Printf("Input: %s (%s)\n", *input, formatBytes(n))
		fmt.Printf("SHA-256: %s\n", fp)
	}

	start := time.Now()
	thumb, err := img.WriteThumbnailFile(img.NewImagingCodec(*quality), *input, *output, *size, *size)
	if err != nil {
		log.Fatalf("conversion failed: %v", err)
	}
	duration := time.Since(start)

	fmt.Println("Conversion successful")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Output: %s\n", *output)
	fmt.Printf("Dimensions: %dx%d -> %dx%d\n", thumb.SourceWidth, thumb.SourceHeight, thumb.Width, thumb.Height)
	fmt.Printf("Size: %s\n", formatBytes(int64(len(thumb.Data))))
	fmt.Printf("Time: %v\n", duration.Round(time.Millisecond))

	if *verbose && n > 0 {
		fmt.Printf("Compression: %.1f%%\n", float64(len(thumb.Data))/float64(n)*100)
	}
}

func fingerprintFile(path string) (fingerprint.Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return fingerprint.FromReader(f)
}

func dimensions(path string) (w, h int, format string, _ error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_thumb.jpg"
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
