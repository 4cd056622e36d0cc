package main

import (
	"github.com/JonathanBrouwer/lightbringer/cmd/lightbringer/app"
)

func main() {
	app.NewApp().Run()
}
