package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	accessFormatVersionCurrent  = 1
	refreshFormatVersionCurrent = 1
)

func EncodeAccess(r *AccessRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(accessFormatVersionCurrent)

	if len(r.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	if len(r.TokenID) > 255 {
		return nil, errors.New("tokenID too long")
	}
	buf.WriteByte(byte(len(r.TokenID)))
	buf.WriteString(r.TokenID)

	buf.Write(r.TokenHash[:])

	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func DecodeAccess(data []byte) (*AccessRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != accessFormatVersionCurrent {
		return nil, errors.New("invalid access record version")
	}

	r := &AccessRecord{}

	r.UserID, err = readBytePrefixedString(reader)
	if err != nil {
		return nil, err
	}
	r.TokenID, err = readBytePrefixedString(reader)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(reader, r.TokenHash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	return r, nil
}

func EncodeRefresh(r *RefreshRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(refreshFormatVersionCurrent)

	if len(r.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	buf.Write(r.TokenHash[:])

	if len(r.DeviceInfo) > 255 {
		return nil, errors.New("deviceInfo too long")
	}
	buf.WriteByte(byte(len(r.DeviceInfo)))
	buf.WriteString(r.DeviceInfo)

	if len(r.IPAddress) > 255 {
		return nil, errors.New("ipAddress too long")
	}
	buf.WriteByte(byte(len(r.IPAddress)))
	buf.WriteString(r.IPAddress)

	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func DecodeRefresh(data []byte) (*RefreshRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != refreshFormatVersionCurrent {
		return nil, errors.New("invalid refresh record version")
	}

	r := &RefreshRecord{}

	r.UserID, err = readBytePrefixedString(reader)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(reader, r.TokenHash[:]); err != nil {
		return nil, err
	}

	r.DeviceInfo, err = readBytePrefixedString(reader)
	if err != nil {
		return nil, err
	}
	r.IPAddress, err = readBytePrefixedString(reader)
	if err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	return r, nil
}

func readBytePrefixedString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}
