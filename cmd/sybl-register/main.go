package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/auth"
	"github.com/Sybl-ml/mallus/pkg/transport"
	"github.com/Sybl-ml/mallus/pkg/transport/quic"
	"github.com/Sybl-ml/mallus/pkg/transport/tcp"
)

func main() {
	addr := flag.String("addr", "tcp://sybl.tech:7000", "coordinator address")
	email := flag.String("email", "", "account email")
	name := flag.String("model", "", "model name to register")
	password := flag.String("password", "", "account password (or set SYBL_PASSWORD, or enter on stdin)")
	privPath := flag.String("priv", "", "path to base64 ed25519 private key (optional)")
	credPath := flag.String("credentials", "", "credentials file (default: sybl.json in XDG data dir)")
	timeout := flag.Duration("timeout", 15*time.Second, "dial/registration timeout")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if *email == "" || *name == "" {
		fatalf("both -email and -model are required")
	}
	pass := resolvePassword(*password)

	scheme, endpoint, err := transport.ParseAddress(*addr)
	if err != nil {
		fatalf("parse address: %v", err)
	}
	var dialer transport.Dialer
	switch scheme {
	case "tcp":
		dialer = tcp.New()
	case "quic":
		dialer = quic.New(nil)
	default:
		fatalf("unsupported scheme %q for registration", scheme)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reg := &auth.Registrar{
		Dialer:  dialer,
		Address: endpoint,
		Store:   auth.NewStore(*credPath),
		Key:     loadOrGenKey(*privPath),
		Logger:  logger,
	}
	creds, err := reg.Register(ctx, *email, pass, *name)
	if err != nil {
		fatalf("register: %v", err)
	}
	fmt.Println("Registered model", *name, "with id", creds.ModelID)
}

func resolvePassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("SYBL_PASSWORD"); env != "" {
		return env
	}
	fmt.Print("Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fatalf("read password: %v", err)
	}
	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		fatalf("empty password")
	}
	return pass
}

func loadOrGenKey(path string) ed25519.PrivateKey {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fatalf("gen key: %v", err)
		}
		fmt.Println("Generated new ed25519 key; pub:")
		fmt.Println(base64.RawURLEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)))
		return priv
	}
	priv, err := auth.LoadPrivateKey(path)
	if err != nil {
		fatalf("load priv: %v", err)
	}
	return priv
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
