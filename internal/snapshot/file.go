package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression - сжатие файлов снимков
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	if c == CompressionZstd {
		return "zstd"
	}
	return "none"
}

// ParseCompression разбирает значение из конфигурации
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("неизвестное сжатие: %q", s)
}

const fileExt = ".bin"

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// FileName строит имя файла "<prefix>.chunk.<cx>.<cz>[.<version>].bin"
func FileName(prefix string, cx, cz int, version string) string {
	name := fmt.Sprintf("%s.chunk.%d.%d", prefix, cx, cz)
	if version != "" {
		name += "." + version
	}
	return name + fileExt
}

// FileInfo - разобранное имя файла снимка
type FileInfo struct {
	Prefix  string
	CX, CZ  int
	Version string
}

// ParseFileName разбирает имя файла снимка
func ParseFileName(name string) (FileInfo, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileExt) {
		return FileInfo{}, false
	}
	parts := strings.Split(strings.TrimSuffix(base, fileExt), ".")
	if len(parts) != 4 && len(parts) != 5 {
		return FileInfo{}, false
	}
	if parts[0] == "" || parts[1] != "chunk" {
		return FileInfo{}, false
	}
	cx, err := strconv.Atoi(parts[2])
	if err != nil {
		return FileInfo{}, false
	}
	cz, err := strconv.Atoi(parts[3])
	if err != nil {
		return FileInfo{}, false
	}
	info := FileInfo{Prefix: parts[0], CX: cx, CZ: cz}
	if len(parts) == 5 {
		if parts[4] == "" {
			return FileInfo{}, false
		}
		info.Version = parts[4]
	}
	return info, true
}

// FileWriter пишет во временный файл "<path>.tmp"; Commit переименовывает его в path
type FileWriter struct {
	path string
	tmp  string
	f    *os.File
	enc  *zstd.Encoder
	bw   *bufio.Writer
	done bool
}

// CreateFile открывает временный файл для записи снимка
func CreateFile(path string, compression Compression) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	fw := &FileWriter{path: path, tmp: tmp, f: f}
	var out io.Writer = f
	if compression == CompressionZstd {
		fw.enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return nil, err
		}
		out = fw.enc
	}
	fw.bw = bufio.NewWriterSize(out, 64*1024)
	return fw, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

// Path возвращает итоговый путь файла
func (w *FileWriter) Path() string {
	return w.path
}

// Commit сбрасывает буферы, закрывает файл и атомарно заменяет им итоговый
func (w *FileWriter) Commit() error {
	if w.done {
		return fmt.Errorf("снимок %s уже закрыт", w.path)
	}
	w.done = true

	err := w.bw.Flush()
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil {
		err = w.f.Sync()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmp, w.path)
	}
	if err != nil {
		os.Remove(w.tmp)
	}
	return err
}

// Close отбрасывает незафиксированный файл. После Commit ничего не делает.
func (w *FileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.enc != nil {
		w.enc.Close()
	}
	err := w.f.Close()
	os.Remove(w.tmp)
	return err
}

type fileReader struct {
	io.Reader
	f   *os.File
	dec *zstd.Decoder
}

func (r *fileReader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	return r.f.Close()
}

// OpenFile открывает файл снимка; сжатие zstd определяется по сигнатуре кадра
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, 64*1024)
	fr := &fileReader{Reader: br, f: f}

	magic, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(magic, zstdMagic) {
		fr.dec, err = zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		fr.Reader = fr.dec
	}
	return fr, nil
}
