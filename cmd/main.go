package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/alecthomas/kong"
	"github.com/cnxysoft/DDBOT-WebQQ"
)

var (
	Tags      = "UNKNOWN"
	CommitId  = "UNKNOWN"
	BuildTime = "UNKNOWN"
)

func main() {
	var cli struct {
		Debug   bool `optional:"" help:"启动debug模式"`
		Version bool `optional:"" short:"v" help:"打印版本信息"`
	}
	kong.Parse(&cli)

	if cli.Version {
		fmt.Printf("Tags: %v\n", Tags)
		fmt.Printf("COMMIT_ID: %v\n", CommitId)
		fmt.Printf("BUILD_TIME: %v\n", BuildTime)
		os.Exit(0)
	}

	fmt.Println("DDBOT-WebQQ：基于WebQQ协议的DDBOT")

	DDBOT.SetUpLog()

	if cli.Debug {
		DDBOT.Debug = true
		go http.ListenAndServe("localhost:6060", nil)
	}

	DDBOT.Run()
}
