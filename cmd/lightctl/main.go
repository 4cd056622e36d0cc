package main

import (
	"fmt"
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/JonathanBrouwer/lightbringer/cmd/lightctl/app"
)

func main() {
	ctx := genericapiserver.SetupSignalContext()
	if err := app.NewLightctlCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "lightctl:", err)
		os.Exit(1)
	}
}
