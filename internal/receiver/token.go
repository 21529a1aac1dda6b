package receiver

// recvToken reads one delta-stream token (§4.8): a positive value n means n
// bytes of literal data follow (already read into data); a negative value
// -(token+1) identifies a block index to copy from the basis file; zero
// marks the end of this file's delta stream.
func (rt *Transfer) recvToken() (token int32, data []byte, err error) {
	token, err = rt.Conn.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if token <= 0 {
		return token, nil, nil
	}
	data, err = rt.Conn.ReadN(int(token))
	if err != nil {
		return 0, nil, err
	}
	return token, data, nil
}
