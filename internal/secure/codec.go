package secure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/types"
)

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("secure: reading uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", fmt.Errorf("secure: reading string length: %w", err)
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", fmt.Errorf("secure: reading string body: %w", err)
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("secure: reading bool: %w", err)
	}
	return b != 0, nil
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano()))
	buf.Write(b[:])
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return time.Time{}, fmt.Errorf("secure: reading time: %w", err)
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b[:]))).UTC(), nil
}

func writeBundles(buf *bytes.Buffer, bundles []types.RepeatedBundle) {
	writeUint32(buf, uint32(len(bundles)))
	for _, b := range bundles {
		writeString(buf, b.Kind)
		writeString(buf, b.ID)
		writeString(buf, b.Data)
	}
}

func readBundles(r *bytes.Reader) ([]types.RepeatedBundle, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("secure: reading bundle count: %w", err)
	}
	out := make([]types.RepeatedBundle, 0, n)
	for i := uint32(0); i < n; i++ {
		var b types.RepeatedBundle
		if b.Kind, err = readString(r); err != nil {
			return nil, err
		}
		if b.ID, err = readString(r); err != nil {
			return nil, err
		}
		if b.Data, err = readString(r); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func writeDeviceState(buf *bytes.Buffer, d types.DeviceState) {
	writeBool(buf, d.HasSwitch1)
	writeBool(buf, d.Switch1)
	writeBool(buf, d.HasSwitch2)
	writeBool(buf, d.Switch2)
	writeBool(buf, d.HasSwitch3)
	writeBool(buf, d.Switch3)
	writeBool(buf, d.HasBlinds)
	buf.WriteByte(d.Blinds)
	writeBool(buf, d.HasDimmer)
	buf.WriteByte(d.Dimmer)
	writeBool(buf, d.HasTabletDisplayMap)
	writeBool(buf, d.TabletDisplayMap)
}

func readDeviceState(r *bytes.Reader) (types.DeviceState, error) {
	var d types.DeviceState
	var err error
	if d.HasSwitch1, err = readBool(r); err != nil {
		return d, err
	}
	if d.Switch1, err = readBool(r); err != nil {
		return d, err
	}
	if d.HasSwitch2, err = readBool(r); err != nil {
		return d, err
	}
	if d.Switch2, err = readBool(r); err != nil {
		return d, err
	}
	if d.HasSwitch3, err = readBool(r); err != nil {
		return d, err
	}
	if d.Switch3, err = readBool(r); err != nil {
		return d, err
	}
	if d.HasBlinds, err = readBool(r); err != nil {
		return d, err
	}
	if d.Blinds, err = r.ReadByte(); err != nil {
		return d, fmt.Errorf("secure: reading blinds: %w", err)
	}
	if d.HasDimmer, err = readBool(r); err != nil {
		return d, err
	}
	if d.Dimmer, err = r.ReadByte(); err != nil {
		return d, fmt.Errorf("secure: reading dimmer: %w", err)
	}
	if d.HasTabletDisplayMap, err = readBool(r); err != nil {
		return d, err
	}
	if d.TabletDisplayMap, err = readBool(r); err != nil {
		return d, err
	}
	return d, nil
}
