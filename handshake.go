package rtmp

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/rand"
)

const rtmpVersion = 3
const handshakeLength = 1536

// clientHandshake performs the three fixed-size exchanges that precede any
// chunked traffic: send C0+C1, read S0+S1+S2, verify S2 echoes C1, send C2
// echoing S1. Every failure is fatal; retrying means a new connection.
func clientHandshake(r *bufio.Reader, w *bufio.Writer) error {
	c1, err := sendC0C1(w)
	if err != nil {
		return err
	}
	s1, s2, err := readS0S1S2(r)
	if err != nil {
		return err
	}
	// The first 8 bytes carry the peer's time fields, which it may stamp
	// freely; only the random remainder must match.
	if !bytes.Equal(c1[8:], s2[8:]) {
		return errors.Wrap(ErrHandshake, "s2 does not echo c1")
	}
	return sendC2(w, s1)
}

// sendC0C1 writes the version byte and the random challenge, returning the
// challenge for later comparison against S2.
func sendC0C1(w *bufio.Writer) ([]byte, error) {
	var c0c1 [1 + handshakeLength]byte
	c0c1[0] = rtmpVersion
	// Bytes 1-8 are the client's time and a zero field; leaving them zero
	// declares epoch time 0, which every server accepts.
	if err := rand.Fill(c0c1[9:]); err != nil {
		return nil, errors.Wrap(err, "generate handshake payload")
	}
	if err := send(w, c0c1[:]); err != nil {
		return nil, errors.Wrapf(ErrHandshake, "send c0c1: %v", err)
	}
	return c0c1[1:], nil
}

func readS0S1S2(r *bufio.Reader) ([]byte, []byte, error) {
	var s0s1s2 [1 + 2*handshakeLength]byte
	if _, err := io.ReadFull(r, s0s1s2[:]); err != nil {
		return nil, nil, errors.Wrapf(ErrHandshake, "read s0s1s2: %v", err)
	}
	if s0s1s2[0] != rtmpVersion {
		return nil, nil, errors.Wrapf(ErrHandshake, "unsupported protocol version %d", s0s1s2[0])
	}
	return s0s1s2[1 : 1+handshakeLength], s0s1s2[1+handshakeLength:], nil
}

func sendC2(w *bufio.Writer, s1 []byte) error {
	if err := send(w, s1); err != nil {
		return errors.Wrapf(ErrHandshake, "send c2: %v", err)
	}
	return nil
}

func send(w *bufio.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}
