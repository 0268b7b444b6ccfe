// sshpasswd manages the bcrypt "username:salt:hash" CSV passwd file
// consulted by services.VerifyPasswdFile, adapted from the teacher's
// xspasswd.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"bytes"
	"encoding/csv"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/jameskeane/bcrypt"
	"golang.org/x/crypto/ssh/terminal"
)

var (
	version   string
	gitCommit string
)

// nolint: gocyclo
func main() {
	var vopt bool
	var pfName string
	var userName string

	flag.BoolVar(&vopt, "v", false, "show version")
	flag.StringVar(&userName, "u", "", "username")
	flag.StringVar(&pfName, "f", "/etc/xs.passwd", "passwd file")
	flag.Parse()

	if vopt {
		fmt.Printf("version %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	if len(userName) == 0 {
		log.Println("specify username with -u")
		os.Exit(1)
	}
	uname := userName

	fmt.Printf("New Password:")
	ab, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Printf("\r\n")
	if err != nil {
		log.Fatal(err)
	}
	newpw := string(ab)

	fmt.Printf("Confirm:")
	ab, err = terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Printf("\r\n")
	if err != nil {
		log.Fatal(err)
	}
	if string(ab) != newpw {
		log.Println("New passwords do not match.")
		os.Exit(1)
	}

	// generate a random salt with specific rounds of complexity
	// (default in jameskeane/bcrypt is 12 but we'll be explicit here)
	salt, err := bcrypt.Salt(12)
	if err != nil {
		fmt.Println("ERROR: bcrypt.Salt() failed.")
		os.Exit(2)
	}

	hash, err := bcrypt.Hash(newpw, salt)
	if err != nil || !bcrypt.Match(newpw, hash) {
		fmt.Println("ERROR: bcrypt.Match() failed.")
		log.Fatal(err)
	}

	b, err := ioutil.ReadFile(pfName) // nolint: gosec
	if err != nil {
		log.Fatal(err)
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = ':'
	r.Comment = '#'
	r.FieldsPerRecord = 3 // username:salt:authCookie

	records, err := r.ReadAll()
	if err != nil {
		log.Fatal(err)
	}

	recFound := false
	for i := range records {
		if records[i][0] == uname {
			recFound = true
			records[i][1] = salt
			records[i][2] = hash
		}
	}
	if !recFound {
		records = append(records, []string{uname, salt, hash})
	}

	outFile, err := ioutil.TempFile("", "xs-passwd")
	if err != nil {
		log.Fatal(err)
	}
	w := csv.NewWriter(outFile)
	w.Comma = ':'
	if err := w.Write([]string{"#username", "salt", "authCookie"}); err != nil {
		log.Fatal(err)
	}
	if err := w.WriteAll(records); err != nil {
		log.Fatal(err)
	}
	if err := w.Error(); err != nil {
		log.Fatal(err)
	}

	if err := os.Remove(pfName); err != nil {
		log.Fatal(err)
	}
	if err := os.Rename(outFile.Name(), pfName); err != nil {
		log.Fatal(err)
	}
}
