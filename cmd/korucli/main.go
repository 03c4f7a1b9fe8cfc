// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device/vulkan"
	"github.com/devblok/kframe/utility/kar"
)

const usage = `usage: korucli <command> [flags]

commands:
  devices   print the physical devices as JSON
  pack      build a kar archive out of files and directories
  list      print the index of a kar archive
`

func currentUserName() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Name
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "devices":
		err = devices(args)
	case "pack":
		err = pack(args)
	case "list":
		err = list(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal(os.Args[1])
	}
}

func devices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	debug := fs.Bool("vkdbg", false, "Load Vulkan validation layers")
	fs.Parse(args)

	instance, err := vulkan.NewInstance(vulkan.DefaultApplicationInfo, nil, core.InstanceConfiguration{
		DebugMode: *debug,
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(instance.PhysicalDevicesInfo())
}

func pack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	author := fs.String("author", currentUserName(), "Set the author of the package")
	version := fs.Int64("version", 1, "Archive version number to create it with")
	dstFile := fs.String("f", "out.kar", "Destination file")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("nothing to pack")
	}
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.Errorf("%s exists, will not overwrite", *dstFile)
	}

	var files []string
	for _, root := range fs.Args() {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	for _, name := range files {
		if err := addFile(builder, name); err != nil {
			return err
		}
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	n, err := builder.WriteTo(dst)
	if err != nil {
		dst.Close()
		return err
	}
	log.WithFields(log.Fields{
		"archive": *dstFile,
		"files":   builder.Len(),
		"bytes":   n,
	}).Info("archive written")
	return dst.Close()
}

func addFile(b *kar.Builder, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Add(filepath.ToSlash(name), f)
}

func list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("list takes one archive")
	}

	f, err := kar.OpenFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	header := f.Header()
	fmt.Printf("author: %s\nversion: %d\ncreated: %s\n\n", header.Author, header.Version,
		time.Unix(header.DateCreated, 0).Format(time.RFC3339))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tCOMPRESSED")
	for _, e := range header.Index {
		fmt.Fprintf(w, "%s\t%d\t%d\n", e.Name, e.Size, e.CompressedSize)
	}
	return w.Flush()
}
