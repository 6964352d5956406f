package transport

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"google.golang.org/grpc/encoding"
)

// ZstdCompressorName is the name under which the Zstandard compressor
// is registered with gRPC. It can be passed to grpc.UseCompressor().
const ZstdCompressorName = "zstd"

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string {
	return ZstdCompressorName
}

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReader{decoder: decoder}, nil
}

// zstdReader releases the resources of the decoder once the end of the
// stream is reached, as gRPC never closes decompressing readers.
type zstdReader struct {
	decoder *zstd.Decoder
}

func (r *zstdReader) Read(p []byte) (int, error) {
	if r.decoder == nil {
		return 0, io.EOF
	}
	n, err := r.decoder.Read(p)
	if err != nil {
		r.decoder.Close()
		r.decoder = nil
	}
	return n, err
}
