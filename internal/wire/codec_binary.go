package wire

import "fmt"

// binaryCodec implements Codec with a one-byte type tag followed by
// positionally-tagged fixed-width fields. Chunk payloads are copied
// verbatim (length-prefixed raw bytes), never base64-encoded, which is the
// whole reason this codec exists alongside the JSON one.
//
// Negotiated only with peers that advertised CapBinaryCodec at Hello; once
// chosen for a connection it is never switched mid-stream.
type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) Encode(t Type, body any) ([]byte, error) {
	w := &binWriter{}
	w.byte(byte(t))

	switch v := body.(type) {
	case *Hello:
		w.str(v.DeviceID)
		w.str(v.DeviceName)
		w.str(v.ClientNonce)
		w.i64(int64(v.Version))
		w.strSlice(v.Capabilities)
	case *AuthChallenge:
		w.str(v.ServerNonce)
		w.i64(v.ExpiresAtMS)
	case *AuthResponse:
		w.str(v.PairCode)
		w.str(v.Proof)
	case *AuthOk:
		w.str(v.PeerDeviceID)
		w.str(v.PeerName)
		w.i64(int64(v.Version))
		w.strSlice(v.Capabilities)
	case *ErrorFrame:
		w.str(v.Code)
		w.str(v.Message)
	case *Manifest:
		w.str(v.SessionID)
		w.str(v.Direction)
		w.str(v.SaveDir)
		w.u16(uint16(len(v.Files)))
		for _, f := range v.Files {
			w.str(f.FileID)
			w.str(f.RelativePath)
			w.i64(f.SizeBytes)
			w.i64(f.ChunkSize)
			w.i64(f.ChunkCount)
			w.str(f.Blake3Hex)
			w.str(f.MimeType)
			w.bool(f.IsFolderArchive)
		}
	case *ManifestAck:
		w.str(v.SessionID)
		w.u16(uint16(len(v.MissingChunksByFile)))
		for fileID, ranges := range v.MissingChunksByFile {
			w.str(fileID)
			w.str(ranges)
		}
	case *ChunkBinary:
		w.str(v.SessionID)
		w.str(v.FileID)
		w.i64(v.ChunkIndex)
		w.i64(v.TotalChunks)
		w.str(v.HashHex)
		w.bytesField(v.Data)
	case *Ack:
		w.str(v.SessionID)
		encodeAckItem(w, v.Item)
	case *AckBatch:
		w.str(v.SessionID)
		w.u16(uint16(len(v.Items)))
		for _, item := range v.Items {
			encodeAckItem(w, item)
		}
	case *FileDone:
		w.str(v.SessionID)
		w.str(v.FileID)
		w.str(v.Blake3Hex)
	case *SessionDone:
		w.str(v.SessionID)
		w.bool(v.OK)
		w.str(v.Error)
	case *Ping:
		w.i64(v.TimestampMS)
	default:
		return nil, fmt.Errorf("binary codec: encode %s: %w", t, ErrUnknownFrameType)
	}

	return w.Bytes(), nil
}

func encodeAckItem(w *binWriter, item AckItem) {
	w.str(item.FileID)
	w.i64(item.ChunkIndex)
	w.bool(item.OK)
	w.str(item.Error)
}

func decodeAckItem(r *binReader) (AckItem, error) {
	var item AckItem
	var err error
	if item.FileID, err = r.str(); err != nil {
		return item, err
	}
	if item.ChunkIndex, err = r.i64(); err != nil {
		return item, err
	}
	if item.OK, err = r.boolVal(); err != nil {
		return item, err
	}
	if item.Error, err = r.str(); err != nil {
		return item, err
	}
	return item, nil
}

func (binaryCodec) Decode(payload []byte) (Type, any, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("binary codec: empty payload")
	}
	t := Type(payload[0])
	r := newBinReader(payload[1:])

	switch t {
	case TypeHello:
		v := &Hello{}
		var ver int64
		var err error
		if v.DeviceID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.DeviceName, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.ClientNonce, err = r.str(); err != nil {
			return 0, nil, err
		}
		if ver, err = r.i64(); err != nil {
			return 0, nil, err
		}
		v.Version = int(ver)
		if v.Capabilities, err = r.strSlice(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeAuthChallenge:
		v := &AuthChallenge{}
		var err error
		if v.ServerNonce, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.ExpiresAtMS, err = r.i64(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeAuthResponse:
		v := &AuthResponse{}
		var err error
		if v.PairCode, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Proof, err = r.str(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeAuthOk:
		v := &AuthOk{}
		var ver int64
		var err error
		if v.PeerDeviceID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.PeerName, err = r.str(); err != nil {
			return 0, nil, err
		}
		if ver, err = r.i64(); err != nil {
			return 0, nil, err
		}
		v.Version = int(ver)
		if v.Capabilities, err = r.strSlice(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeErrorFrame:
		v := &ErrorFrame{}
		var err error
		if v.Code, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Message, err = r.str(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeManifest:
		v := &Manifest{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Direction, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.SaveDir, err = r.str(); err != nil {
			return 0, nil, err
		}
		n, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		v.Files = make([]ManifestFile, n)
		for i := range v.Files {
			f := &v.Files[i]
			if f.FileID, err = r.str(); err != nil {
				return 0, nil, err
			}
			if f.RelativePath, err = r.str(); err != nil {
				return 0, nil, err
			}
			if f.SizeBytes, err = r.i64(); err != nil {
				return 0, nil, err
			}
			if f.ChunkSize, err = r.i64(); err != nil {
				return 0, nil, err
			}
			if f.ChunkCount, err = r.i64(); err != nil {
				return 0, nil, err
			}
			if f.Blake3Hex, err = r.str(); err != nil {
				return 0, nil, err
			}
			if f.MimeType, err = r.str(); err != nil {
				return 0, nil, err
			}
			if f.IsFolderArchive, err = r.boolVal(); err != nil {
				return 0, nil, err
			}
		}
		return t, v, nil

	case TypeManifestAck:
		v := &ManifestAck{MissingChunksByFile: map[string]string{}}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		n, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		for i := uint16(0); i < n; i++ {
			fileID, err := r.str()
			if err != nil {
				return 0, nil, err
			}
			ranges, err := r.str()
			if err != nil {
				return 0, nil, err
			}
			v.MissingChunksByFile[fileID] = ranges
		}
		return t, v, nil

	case TypeChunkBinary:
		v := &ChunkBinary{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.FileID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.ChunkIndex, err = r.i64(); err != nil {
			return 0, nil, err
		}
		if v.TotalChunks, err = r.i64(); err != nil {
			return 0, nil, err
		}
		if v.HashHex, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Data, err = r.bytesField(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeAck:
		v := &Ack{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Item, err = decodeAckItem(r); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeAckBatch:
		v := &AckBatch{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		n, err := r.u16()
		if err != nil {
			return 0, nil, err
		}
		v.Items = make([]AckItem, n)
		for i := range v.Items {
			if v.Items[i], err = decodeAckItem(r); err != nil {
				return 0, nil, err
			}
		}
		return t, v, nil

	case TypeFileDone:
		v := &FileDone{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.FileID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.Blake3Hex, err = r.str(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypeSessionDone:
		v := &SessionDone{}
		var err error
		if v.SessionID, err = r.str(); err != nil {
			return 0, nil, err
		}
		if v.OK, err = r.boolVal(); err != nil {
			return 0, nil, err
		}
		if v.Error, err = r.str(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	case TypePing:
		v := &Ping{}
		var err error
		if v.TimestampMS, err = r.i64(); err != nil {
			return 0, nil, err
		}
		return t, v, nil

	default:
		return 0, nil, ErrUnknownFrameType
	}
}
