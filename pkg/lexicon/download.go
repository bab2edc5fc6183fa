package lexicon

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Download fetches a lexicon published at url and writes its JSON to
// destPath. Plain JSON, gzip-compressed JSON and .tgz archives holding a
// .json file are accepted.
func Download(ctx context.Context, client *http.Client, url, destPath string) error {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "lexlink-cli")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	body := bufio.NewReader(resp.Body)
	r, closeFn, err := decompress(body)
	if err != nil {
		return err
	}
	defer closeFn()

	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return outFile.Close()
}

// decompress unwraps gzip and tar layers, detected by their magic bytes.
func decompress(body *bufio.Reader) (io.Reader, func(), error) {
	noop := func() {}
	magic, _ := body.Peek(2)
	if !bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		return body, noop, nil
	}

	gzReader, err := gzip.NewReader(body)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	inner := bufio.NewReader(gzReader)
	// JSON starts with '{' or '[' (possibly after whitespace); anything else
	// is treated as a tar stream.
	head, _ := inner.Peek(512)
	if trimmed := bytes.TrimLeft(head, " \t\r\n"); len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return inner, func() { gzReader.Close() }, nil
	}

	tarReader := tar.NewReader(inner)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			gzReader.Close()
			return nil, noop, fmt.Errorf("error reading tar archive: %w", err)
		}
		if header.Typeflag == tar.TypeReg && strings.HasSuffix(header.Name, ".json") {
			return tarReader, func() { gzReader.Close() }, nil
		}
	}
	gzReader.Close()
	return nil, noop, errors.New("no json file found in downloaded archive")
}
