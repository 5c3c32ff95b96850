package main

const (
	exitCodeSuccess = 0
	exitCodeUsage   = 1
	exitCodeWatch   = 2
)
