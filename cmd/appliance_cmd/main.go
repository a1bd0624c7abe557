// A software signing appliance for regtest and demos. It holds the key in
// memory and serves the appliance gRPC service federators dial.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/TEENet-io/pegout-federator/cmd"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/TEENet-io/pegout-federator/logconfig"
	"github.com/TEENet-io/pegout-federator/releaser"
	"github.com/TEENet-io/pegout-federator/signers"
	logger "github.com/sirupsen/logrus"
)

func main() {
	viper.AutomaticEnv()
	viper.SetDefault("APPLIANCE_LISTEN", "127.0.0.1:9500")
	viper.SetDefault("APPLIANCE_VERSION", 2)
	viper.SetDefault("KEY_ID", releaser.DefaultKeyID)
	viper.SetDefault("LOG_LEVEL", "info")

	logconfig.ConfigLoggerFromString(viper.GetString("LOG_LEVEL"))

	appliance, err := cmd.NewLocalAppliance(
		viper.GetInt("APPLIANCE_VERSION"),
		viper.GetString("KEY_ID"),
		viper.GetString("LOCAL_SIGNER_PRIV"),
	)
	if err != nil {
		fmt.Printf("Error creating appliance: %s\n", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", viper.GetString("APPLIANCE_LISTEN"))
	if err != nil {
		fmt.Printf("Error listening: %s\n", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	signers.RegisterApplianceServer(srv, appliance)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("stopping appliance")
		srv.GracefulStop()
	}()

	if pk, err := appliance.PublicKey(context.Background(), viper.GetString("KEY_ID")); err == nil {
		logger.WithField("pubKey", common.ByteSliceToPureHexStr(pk.SerializeCompressed())).Info("appliance key")
	}
	logger.WithField("addr", lis.Addr().String()).Info("appliance listening")
	if err := srv.Serve(lis); err != nil {
		fmt.Printf("Appliance failed: %s\n", err)
		os.Exit(1)
	}
}
