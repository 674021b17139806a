package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/protocol"
	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
	"github.com/Sybl-ml/mallus/pkg/transport"
)

// Registrar creates a new model on the coordinator through the
// challenge-response flow and stores the resulting credentials.
type Registrar struct {
	Dialer  transport.Dialer
	Address string
	Codec   codec.Codec
	Store   *Store
	Key     ed25519.PrivateKey
	Logger  *zap.Logger

	// MaxFrameBytes bounds coordinator frames; zero uses the protocol default.
	MaxFrameBytes int
}

// Register runs NewModel → Challenge → ChallengeResponse → AccessToken and
// saves the issued credentials under email/modelName.
func (r *Registrar) Register(ctx context.Context, email, password, modelName string) (Credentials, error) {
	log := r.Logger
	if log == nil {
		log = zap.L()
	}
	c := r.Codec
	if c == nil {
		c = codec.JSON()
	}

	conn, err := r.Dialer.Dial(ctx, r.Address)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: dial %s: %w", r.Address, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	var seq uint64
	send := func(m protocol.Message) error {
		seq++
		protocol.Stamp(m, seq)
		frame, err := protocol.Marshal(c, m)
		if err != nil {
			return err
		}
		wire, err := protocol.EncodeFrame(frame, r.MaxFrameBytes)
		if err != nil {
			return err
		}
		_, err = conn.Write(wire)
		return err
	}

	if err := send(&protocol.NewModel{Email: email, Password: password, ModelName: modelName}); err != nil {
		return Credentials{}, fmt.Errorf("auth: send new-model: %w", err)
	}

	dec := protocol.NewDecoder(r.MaxFrameBytes)
	buf := make([]byte, 32*1024)
	for {
		frame, derr := dec.Next()
		if errors.Is(derr, protocol.ErrIncomplete) {
			n, rerr := conn.Read(buf)
			if n > 0 {
				dec.Push(buf[:n])
				continue
			}
			if rerr != nil {
				// A partial frame left in the buffer can never complete now.
				return Credentials{}, fmt.Errorf("auth: read: %w", rerr)
			}
			continue
		}
		if derr != nil {
			return Credentials{}, fmt.Errorf("auth: %w", derr)
		}
		msg, uerr := protocol.Unmarshal(c, frame)
		if uerr != nil {
			return Credentials{}, fmt.Errorf("auth: %w", uerr)
		}

		switch m := msg.(type) {
		case *protocol.Challenge:
			log.Debug("signing registration challenge", zap.Int("bytes", len(m.Challenge)))
			resp := &protocol.ChallengeResponse{
				Email:     email,
				ModelName: modelName,
				Response:  SignChallenge(r.Key, email, modelName, m.Challenge),
			}
			if err := send(resp); err != nil {
				return Credentials{}, fmt.Errorf("auth: send challenge response: %w", err)
			}
		case *protocol.AccessToken:
			creds := Credentials{ModelID: m.ModelID, AccessToken: m.Token}
			if r.Store != nil {
				if err := r.Store.Save(email, modelName, creds); err != nil {
					return creds, err
				}
				log.Info("credentials saved",
					zap.String("model", modelName),
					zap.String("path", r.Store.Path()))
			}
			return creds, nil
		case *protocol.Goodbye:
			return Credentials{}, fmt.Errorf("auth: coordinator refused registration: %s", m.Reason)
		default:
			return Credentials{}, fmt.Errorf("auth: unexpected %s during registration", protocol.TypeName(msg.Type()))
		}
	}
}
