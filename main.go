package main

import "github.com/raulgabino/panwhat-sub000/internal/app"

func main() {
	app.Main()
}
