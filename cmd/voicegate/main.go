package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voicegate-labs/voicegate/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	var (
		server  string
		userID  int64
		token   string
		text    string
		outPath string
		timeout time.Duration
	)

	common := func(fs *flag.FlagSet) {
		fs.StringVar(&server, "server", nats.DefaultURL, "NATS server URL")
		fs.Int64Var(&userID, "id", 0, "User id")
		fs.StringVar(&token, "token", "", "Access token")
		fs.DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")
	}

	userCmd := flag.NewFlagSet("user", flag.ExitOnError)
	common(userCmd)

	wavCmd := flag.NewFlagSet("wav", flag.ExitOnError)
	common(wavCmd)
	wavCmd.StringVar(&text, "text", "", "Text to synthesize")
	wavCmd.StringVar(&outPath, "o", "out.wav", "Output file")

	opusCmd := flag.NewFlagSet("opus", flag.ExitOnError)
	common(opusCmd)
	opusCmd.StringVar(&text, "text", "", "Text to synthesize")

	rotateCmd := flag.NewFlagSet("rotate", flag.ExitOnError)
	common(rotateCmd)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'user', 'wav', 'opus', 'rotate' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "user":
		userCmd.Parse(os.Args[2:])
		err = runUser(server, userID, token, timeout)
	case "wav":
		wavCmd.Parse(os.Args[2:])
		err = runWAV(server, userID, token, text, outPath, timeout)
	case "opus":
		opusCmd.Parse(os.Args[2:])
		err = runOpus(server, userID, token, text, timeout)
	case "rotate":
		rotateCmd.Parse(os.Args[2:])
		err = runRotate(server, userID, token, timeout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func request(server, subject string, payload any, timeout time.Duration) ([]byte, error) {
	conn, err := nats.Connect(server, nats.Name("voicegate-cli"))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, err)
	}
	defer conn.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg, err := conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}

func remoteError(info *protocol.ErrorInfo) error {
	return fmt.Errorf("%s: %s", info.Code, info.Message)
}

func runUser(server string, userID int64, token string, timeout time.Duration) error {
	data, err := request(server, protocol.SubjectUserGet,
		protocol.UserRequest{UserID: userID, Token: token}, timeout)
	if err != nil {
		return err
	}
	var resp protocol.UserResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return remoteError(resp.Error)
	}
	fmt.Printf("user %d: status=%d used=%d/%d characters\n",
		resp.User.ID, resp.User.AccountStatus, resp.User.CharacterCount, resp.User.CharacterLimit)
	return nil
}

func runWAV(server string, userID int64, token, text, outPath string, timeout time.Duration) error {
	data, err := request(server, protocol.SubjectSynthWAV,
		protocol.SynthRequest{Text: text, UserID: userID, Token: token}, timeout)
	if err != nil {
		return err
	}
	var resp protocol.SynthWAVResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return remoteError(resp.Error)
	}
	if err := os.WriteFile(outPath, resp.Audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(resp.Audio), outPath)
	return nil
}

func runOpus(server string, userID int64, token, text string, timeout time.Duration) error {
	data, err := request(server, protocol.SubjectSynthOpus,
		protocol.SynthRequest{Text: text, UserID: userID, Token: token}, timeout)
	if err != nil {
		return err
	}
	var resp protocol.SynthOpusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return remoteError(resp.Error)
	}
	var total int
	for _, frame := range resp.Frames {
		total += len(frame)
	}
	fmt.Printf("received %d opus frames (%d bytes)\n", len(resp.Frames), total)
	return nil
}

func runRotate(server string, userID int64, token string, timeout time.Duration) error {
	data, err := request(server, protocol.SubjectTokenRotate,
		protocol.RotateRequest{UserID: userID, Token: token}, timeout)
	if err != nil {
		return err
	}
	var resp protocol.RotateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return remoteError(resp.Error)
	}
	fmt.Println(resp.Token)
	return nil
}
