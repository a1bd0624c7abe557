package signers

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/btcsuite/btcd/btcec/v2"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "appliance.Signer"

	methodSign            = "/" + serviceName + "/Sign"
	methodVersion         = "/" + serviceName + "/GetVersion"
	methodPublicKey       = "/" + serviceName + "/GetPublicKey"
	methodAdvanceAncestor = "/" + serviceName + "/AdvanceAncestor"
)

// RemoteAppliance reaches an appliance over gRPC. Requests and responses
// are protobuf Structs, binary fields are hex strings.
type RemoteAppliance struct {
	conn *grpc.ClientConn
}

func DialRemoteAppliance(target string, opts ...grpc.DialOption) (*RemoteAppliance, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &RemoteAppliance{conn: conn}, nil
}

func (ra *RemoteAppliance) Close() error {
	return ra.conn.Close()
}

func (ra *RemoteAppliance) Sign(ctx context.Context, keyID string, msg *Message) ([]byte, error) {
	req, err := encodeMessage(keyID, msg)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := ra.conn.Invoke(ctx, methodSign, req, resp); err != nil {
		return nil, err
	}
	return hexField(resp, "signature")
}

func (ra *RemoteAppliance) ProtocolVersion(ctx context.Context) (int, error) {
	resp := new(structpb.Struct)
	if err := ra.conn.Invoke(ctx, methodVersion, &structpb.Struct{}, resp); err != nil {
		return 0, err
	}

	v, ok := resp.Fields["version"]
	if !ok {
		return 0, fmt.Errorf("%w: no version", ErrMalformedAppliance)
	}
	return int(v.GetNumberValue()), nil
}

func (ra *RemoteAppliance) PublicKey(ctx context.Context, keyID string) (*btcec.PublicKey, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"keyId": keyID})
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := ra.conn.Invoke(ctx, methodPublicKey, req, resp); err != nil {
		return nil, err
	}
	b, err := hexField(resp, "publicKey")
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func (ra *RemoteAppliance) EnsureAncestor(ctx context.Context, version int, blockHash ethcommon.Hash) error {
	req, err := structpb.NewStruct(map[string]interface{}{
		"version":   version,
		"blockHash": hex.EncodeToString(blockHash[:]),
	})
	if err != nil {
		return err
	}
	return ra.conn.Invoke(ctx, methodAdvanceAncestor, req, new(structpb.Struct))
}

func encodeMessage(keyID string, msg *Message) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"keyId":      keyID,
		"version":    msg.Version,
		"inputIndex": msg.InputIndex,
		"sigHash":    hex.EncodeToString(msg.SigHash),
	}
	if msg.Tx != nil {
		var buf bytes.Buffer
		if err := msg.Tx.Serialize(&buf); err != nil {
			return nil, err
		}
		fields["tx"] = hex.EncodeToString(buf.Bytes())
	}
	if msg.Proof != nil {
		enc, err := msg.Proof.Encode()
		if err != nil {
			return nil, err
		}
		fields["proof"] = hex.EncodeToString(enc)
	}
	return structpb.NewStruct(fields)
}

func decodeMessage(s *structpb.Struct) (string, *Message, error) {
	sigHash, err := hexField(s, "sigHash")
	if err != nil {
		return "", nil, err
	}
	msg := &Message{
		Version:    int(s.Fields["version"].GetNumberValue()),
		InputIndex: int(s.Fields["inputIndex"].GetNumberValue()),
		SigHash:    sigHash,
	}

	if _, ok := s.Fields["tx"]; ok {
		raw, err := hexField(s, "tx")
		if err != nil {
			return "", nil, err
		}
		msg.Tx, err = deserializeTx(raw)
		if err != nil {
			return "", nil, err
		}
	}
	if _, ok := s.Fields["proof"]; ok {
		raw, err := hexField(s, "proof")
		if err != nil {
			return "", nil, err
		}
		msg.Proof, err = attestation.DecodeReceiptProof(raw)
		if err != nil {
			return "", nil, err
		}
	}
	return s.Fields["keyId"].GetStringValue(), msg, nil
}

func hexField(s *structpb.Struct, name string) ([]byte, error) {
	v, ok := s.Fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrMalformedAppliance, name)
	}
	b, err := hex.DecodeString(v.GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedAppliance, name, err)
	}
	return b, nil
}

var (
	_ Appliance       = (*RemoteAppliance)(nil)
	_ AncestorUpdater = (*RemoteAppliance)(nil)
)
