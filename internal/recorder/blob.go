package recorder

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"

	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/model"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"

	csvDateHeader  = "data"
	csvValueHeader = "valor"
	runsPrefix     = "_runs"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type parquetRow struct {
	Date  int32    `parquet:"name=date, type=INT32, convertedtype=DATE"`
	Value *float64 `parquet:"name=value, type=DOUBLE, repetitiontype=OPTIONAL"`
}

type parquetMemFile struct {
	buffer *bytes.Buffer
}

func newParquetMemFile() *parquetMemFile {
	return &parquetMemFile{buffer: &bytes.Buffer{}}
}

func (m *parquetMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *parquetMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *parquetMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *parquetMemFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *parquetMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *parquetMemFile) Close() error                              { return nil }
func (m *parquetMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// BlobRecorder writes one artifact per series and format into a bucket
// (a local directory via file://, S3 via s3://).
type BlobRecorder struct {
	bucket  *blob.Bucket
	formats []string
	log     *logger.Entry
}

// NewBlobRecorder opens bucketURL and writes the given formats to it.
func NewBlobRecorder(ctx context.Context, bucketURL string, formats []string) (*BlobRecorder, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	r, err := NewBlobRecorderFromBucket(bkt, formats)
	if err != nil {
		bkt.Close()
		return nil, err
	}
	r.log = r.log.WithField("bucket", bucketURL)
	return r, nil
}

// NewBlobRecorderFromBucket takes ownership of an already opened bucket.
func NewBlobRecorderFromBucket(bkt *blob.Bucket, formats []string) (*BlobRecorder, error) {
	if len(formats) == 0 {
		formats = []string{FormatCSV}
	}
	for _, f := range formats {
		if f != FormatCSV && f != FormatParquet {
			return nil, fmt.Errorf("unsupported output format %q", f)
		}
	}
	return &BlobRecorder{
		bucket:  bkt,
		formats: formats,
		log:     logger.GetLogger().WithComponent("recorder").WithField("sink", "blob"),
	}, nil
}

func (r *BlobRecorder) Store(ctx context.Context, name string, ds *model.Dataset) error {
	if ds.Empty() {
		r.log.WithField("series", name).Info("nothing to store, artifacts left untouched")
		return nil
	}
	base, err := ObjectName(name)
	if err != nil {
		return err
	}

	for _, format := range r.formats {
		var (
			data        []byte
			contentType string
		)
		switch format {
		case FormatCSV:
			data, err = EncodeCSV(ds.Observations)
			contentType = "text/csv"
		case FormatParquet:
			data, err = EncodeParquet(ds.Observations)
			contentType = "application/vnd.apache.parquet"
		}
		if err != nil {
			return fmt.Errorf("encode %s as %s: %w", name, format, err)
		}

		key := base + "." + format
		if err := r.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		r.log.WithFields(logger.Fields{"series": name, "key": key, "bytes": len(data)}).Info("artifact written")
	}
	return nil
}

// RecordRun writes the run record as JSON under _runs/<run_id>.json.
func (r *BlobRecorder) RecordRun(ctx context.Context, run *RunRecord) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	key := path.Join(runsPrefix, run.RunID+".json")
	if err := r.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (r *BlobRecorder) Close() error {
	return r.bucket.Close()
}

// EncodeCSV renders observations as "data,valor" rows. Absent values become
// empty cells.
func EncodeCSV(obs []model.Observation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{csvDateHeader, csvValueHeader}); err != nil {
		return nil, err
	}
	for _, o := range obs {
		value := ""
		if o.Value != nil {
			value = strconv.FormatFloat(*o.Value, 'f', -1, 64)
		}
		if err := w.Write([]string{o.Date.Format(time.DateOnly), value}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeParquet renders observations as a two-column parquet file with an
// optional value column.
func EncodeParquet(obs []model.Observation) ([]byte, error) {
	mem := newParquetMemFile()
	pw, err := writer.NewParquetWriter(mem, new(parquetRow), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, o := range obs {
		row := parquetRow{
			Date:  int32(o.Date.Sub(epoch).Hours() / 24),
			Value: o.Value,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}
