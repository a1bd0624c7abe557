package signers

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// applianceServer exposes an Appliance over gRPC, e.g. a LocalAppliance
// standing in for hardware on regtest.
type applianceServer interface {
	Appliance
	AncestorUpdater
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*applianceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: handler(methodSign, serveSign)},
		{MethodName: "GetVersion", Handler: handler(methodVersion, serveVersion)},
		{MethodName: "GetPublicKey", Handler: handler(methodPublicKey, servePublicKey)},
		{MethodName: "AdvanceAncestor", Handler: handler(methodAdvanceAncestor, serveAdvanceAncestor)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterApplianceServer serves backend on s.
func RegisterApplianceServer(s *grpc.Server, backend interface {
	Appliance
	AncestorUpdater
}) {
	s.RegisterService(&serviceDesc, backend)
}

type serveFunc func(ctx context.Context, backend applianceServer, req *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, serve serveFunc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(structpb.Struct)
		if err := dec(req); err != nil {
			return nil, err
		}
		backend := srv.(applianceServer)
		if interceptor == nil {
			return serve(ctx, backend, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return serve(ctx, backend, req.(*structpb.Struct))
		})
	}
}

func serveSign(ctx context.Context, backend applianceServer, req *structpb.Struct) (*structpb.Struct, error) {
	keyID, msg, err := decodeMessage(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sig, err := backend.Sign(ctx, keyID, msg)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return structpb.NewStruct(map[string]interface{}{"signature": hex.EncodeToString(sig)})
}

func serveVersion(ctx context.Context, backend applianceServer, req *structpb.Struct) (*structpb.Struct, error) {
	version, err := backend.ProtocolVersion(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return structpb.NewStruct(map[string]interface{}{"version": version})
}

func servePublicKey(ctx context.Context, backend applianceServer, req *structpb.Struct) (*structpb.Struct, error) {
	pk, err := backend.PublicKey(ctx, req.Fields["keyId"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return structpb.NewStruct(map[string]interface{}{"publicKey": hex.EncodeToString(pk.SerializeCompressed())})
}

func serveAdvanceAncestor(ctx context.Context, backend applianceServer, req *structpb.Struct) (*structpb.Struct, error) {
	hash, err := hexField(req, "blockHash")
	if err != nil || len(hash) != ethcommon.HashLength {
		return nil, status.Error(codes.InvalidArgument, "invalid block hash")
	}
	version := int(req.Fields["version"].GetNumberValue())
	if err := backend.EnsureAncestor(ctx, version, ethcommon.BytesToHash(hash)); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &structpb.Struct{}, nil
}

func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
