package columnar

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Flatbuffer layout of the IPC file footer and message headers
// (Footer.fbs, Message.fbs).
const (
	footerRecordBatchesSlot flatbuffers.VOffsetT = 10
	blockSize                                    = 24
	messageHeaderTypeSlot   flatbuffers.VOffsetT = 6
	messageHeaderSlot       flatbuffers.VOffsetT = 8
	recordBatchLengthSlot   flatbuffers.VOffsetT = 4
	headerRecordBatch                            = 3
	continuationToken                            = 0xFFFFFFFF
)

// batchRowCounts returns the row count of every record batch in an IPC
// file of the given size, reading the footer and message headers only.
func batchRowCounts(r io.ReaderAt, size int64) ([]int64, error) {
	eof := int64(len(ipc.Magic) + 4)
	if size <= int64(len(ipc.Magic))*2+4 {
		return nil, errors.New(errors.ErrorTypeData, "Arrow file too small")
	}
	tail := make([]byte, eof)
	if _, err := r.ReadAt(tail, size-eof); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read Arrow footer")
	}
	if !bytes.Equal(tail[4:], ipc.Magic) {
		return nil, errors.New(errors.ErrorTypeData, "not an Arrow file")
	}
	footerLen := int64(binary.LittleEndian.Uint32(tail[:4]))
	if footerLen <= 0 || footerLen+eof > size {
		return nil, errors.New(errors.ErrorTypeData, "inconsistent Arrow footer").
			WithDetail("footer_length", footerLen)
	}
	buf := make([]byte, footerLen)
	if _, err := r.ReadAt(buf, size-eof-footerLen); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read Arrow footer")
	}

	footer := flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}
	o := flatbuffers.UOffsetT(footer.Offset(footerRecordBatchesSlot))
	if o == 0 {
		return nil, nil
	}
	vec := footer.Vector(o)
	counts := make([]int64, footer.VectorLen(o))
	if int(vec)+len(counts)*blockSize > len(buf) {
		return nil, errors.New(errors.ErrorTypeData, "inconsistent Arrow footer").
			WithDetail("record_batches", len(counts))
	}
	for b := range counts {
		pos := vec + flatbuffers.UOffsetT(b*blockSize)
		offset := footer.GetInt64(pos)
		metaLen := footer.GetInt32(pos + 8)
		rows, err := messageRows(r, offset, metaLen, size)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read record batch header").
				WithDetail("batch", b)
		}
		counts[b] = rows
	}
	return counts, nil
}

// messageRows decodes the length field of the record batch message
// whose metadata starts at offset.
func messageRows(r io.ReaderAt, offset int64, metaLen int32, size int64) (int64, error) {
	if offset < 0 || metaLen < 8 || offset+int64(metaLen) > size {
		return 0, errors.New(errors.ErrorTypeData, "record batch block out of range").
			WithDetail("offset", offset).
			WithDetail("metadata_length", metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := r.ReadAt(meta, offset); err != nil {
		return 0, err
	}

	// continuation token plus length, or a bare length from pre-0.15 writers
	switch binary.LittleEndian.Uint32(meta) {
	case continuationToken:
		meta = meta[8:]
	case 0:
	default:
		meta = meta[4:]
	}
	if len(meta) < 4 {
		return 0, errors.New(errors.ErrorTypeData, "truncated message header")
	}

	msg := flatbuffers.Table{Bytes: meta, Pos: flatbuffers.GetUOffsetT(meta)}
	if msg.GetByteSlot(messageHeaderTypeSlot, 0) != headerRecordBatch {
		return 0, errors.New(errors.ErrorTypeData, "message is not a record batch")
	}
	o := flatbuffers.UOffsetT(msg.Offset(messageHeaderSlot))
	if o == 0 {
		return 0, errors.New(errors.ErrorTypeData, "record batch message has no header")
	}
	var batch flatbuffers.Table
	msg.Union(&batch, o)
	return batch.GetInt64Slot(recordBatchLengthSlot, 0), nil
}
