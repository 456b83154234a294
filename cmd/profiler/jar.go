package main

import (
	"fmt"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// layersIndex routes the generated jar the way the Spring Boot plugins do.
const layersIndex = `- "dependencies":
  - "BOOT-INF/lib/"
- "spring-boot-loader":
  - "org/"
- "snapshot-dependencies":
- "application":
  - "BOOT-INF/classes/"
  - "BOOT-INF/layers.idx"
  - "META-INF/"
`

// writeJar generates a layered jar at path and returns the names of its
// generated files. Even-numbered files go to BOOT-INF/lib, the rest to
// BOOT-INF/classes.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func writeJar(path string, cfg config) ([]string, error) {
	method, err := parseCompression(cfg.compression)
	if err != nil {
		return nil, err
	}
	dirCount := max(cfg.dirCount, 1)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	if err := writeEntry(zw, "META-INF/MANIFEST.MF", zip.Deflate, []byte("Manifest-Version: 1.0\r\nSpring-Boot-Layers-Index: BOOT-INF/layers.idx\r\n\r\n")); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, "BOOT-INF/layers.idx", zip.Store, []byte(layersIndex)); err != nil {
		return nil, err
	}

	paths := make([]string, 0, cfg.files)
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	content := make([]byte, cfg.fileSize)
	for i := range cfg.files {
		switch cfg.pattern {
		case "random":
			if _, err := rng.Read(content); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}

		root := "BOOT-INF/classes"
		if i%2 == 0 {
			root = "BOOT-INF/lib"
		}
		name := fmt.Sprintf("%s/dir%02d/file%05d.dat", root, i%dirCount, i)
		if err := writeEntry(zw, name, method, content); err != nil {
			return nil, err
		}
		paths = append(paths, name)
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return paths, f.Close()
}

func writeEntry(zw *zip.Writer, name string, method uint16, content []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func parseCompression(name string) (uint16, error) {
	switch name {
	case "store", "none":
		return zip.Store, nil
	case "deflate":
		return zip.Deflate, nil
	case "zstd":
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("unknown compression: %s", name)
	}
}
