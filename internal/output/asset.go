package output

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Faultbox/hfsync/pkg/heightfield"
)

// TerrainAssetExt is the file extension of terrain data assets.
const TerrainAssetExt = ".hfterrain"

// AssetVersion is the current terrain asset format version.
const AssetVersion = 1

// ErrAssetVersion is returned for assets written by an unknown format.
var ErrAssetVersion = errors.New("unsupported terrain asset version")

// AssetHeader is the JSON line at the start of every asset, readable
// without decoding the body.
type AssetHeader struct {
	Version    int    `json:"version"`
	Tile       int    `json:"tile"`
	Resolution int    `json:"resolution"`
	Layers     int    `json:"layers"`
	Source     string `json:"source,omitempty"`
}

// TerrainAsset is the persisted form of a tile's terrain data.
type TerrainAsset struct {
	Header  AssetHeader
	Size    heightfield.Size
	Heights [][]float32
	Splats  [][][]float32
	Layers  []TerrainLayer
}

// WriteTerrainAsset writes asset to path as a zstd stream holding a JSON
// header line followed by the gob-encoded body. The asset is encoded into a
// temporary file that replaces path only once it is complete.
func WriteTerrainAsset(path string, asset *TerrainAsset) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := encodeAsset(f, asset); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func encodeAsset(w io.Writer, asset *TerrainAsset) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(asset.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(asset); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadTerrainAsset reads an asset written by WriteTerrainAsset.
func ReadTerrainAsset(path string) (*TerrainAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	if _, err := readHeader(br); err != nil {
		return nil, err
	}

	var asset TerrainAsset
	if err := gob.NewDecoder(br).Decode(&asset); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &asset, nil
}

// ReadAssetHeader reads only the header line of an asset.
func ReadAssetHeader(path string) (AssetHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return AssetHeader{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return AssetHeader{}, err
	}
	defer dec.Close()

	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (AssetHeader, error) {
	var h AssetHeader
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != AssetVersion {
		return h, fmt.Errorf("%w: %d", ErrAssetVersion, h.Version)
	}
	return h, nil
}
