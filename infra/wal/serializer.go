package wal

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Serializer converts records to and from their on-disk payload.
type Serializer interface {
	Encode(*Record) ([]byte, error)
	Decode([]byte) (*Record, error)
}

var ErrCorruptRecord = errors.New("wal: corrupted record")

// ProtoSerializer encodes a record as a protobuf message
// (1=seq 2=height 3=index 4=kind 5=data), written directly with protowire
// so no generated code needs to be checked in.
type ProtoSerializer struct{}

func (ProtoSerializer) Encode(rec *Record) ([]byte, error) {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.Seq)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.Height)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Index))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Kind))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, rec.Data)
	return b, nil
}

func (ProtoSerializer) Decode(data []byte) (*Record, error) {
	rec := &Record{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrCorruptRecord
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			data = data[n:]
			switch num {
			case 1:
				rec.Seq = v
			case 2:
				rec.Height = v
			case 3:
				rec.Index = uint32(v)
			case 4:
				rec.Kind = uint32(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			data = data[n:]
			if num == 5 {
				rec.Data = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			data = data[n:]
		}
	}
	return rec, nil
}
