// Command redirects patches the kernel image so that selected runtime
// functions jump to kernel replacements. Replacements are marked with a
//
//	//go:redirect-from runtime.symbol
//
// comment. The tool supports two commands:
//
//	count                    print the number of redirects (used to size the
//	                         .goredirectstbl section in the linker script)
//	populate-table <image>   write (source, destination) address pairs to the
//	                         .goredirectstbl section of the kernel image
package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	redirectDirective = "//go:redirect-from"
	redirectSection   = ".goredirectstbl"
)

var errNoModuleLine = errors.New("go.mod does not declare a module path")

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared by the go.mod file in root.
func modulePath(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err = scanner.Err(); err != nil {
		return "", err
	}
	return "", errNoModuleLine
}

// collectGoFiles returns the non-test Go files under dir.
func collectGoFiles(dir string) ([]string, error) {
	var goFiles []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}
		return nil
	})

	return goFiles, err
}

// findRedirects parses goFiles (paths relative to the module root) and
// returns the redirects declared by their function comments.
func findRedirects(modPath string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()
		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", goFile, err)
		}

		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			fqName := fmt.Sprintf("%s/%s.%s", modPath, filepath.ToSlash(filepath.Dir(goFile)), fnDecl.Name.Name)
			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{src: fields[1], dst: fqName})
			}
		}
	}

	return redirects, nil
}

// resolveSymbols looks up the addresses of the redirect endpoints in the
// symbol table of the kernel image.
func resolveSymbols(redirects []*redirect, img *elf.File) error {
	symbols, err := img.Symbols()
	if err != nil {
		return err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, redirect := range redirects {
		redirect.srcVMA, redirect.dstVMA = addrs[redirect.src], addrs[redirect.dst]

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// writeTable encodes the redirect table at the start of w.
func writeTable(w io.WriterAt, offset int64, redirects []*redirect) error {
	buf := make([]byte, 0, 16*len(redirects))
	for _, redirect := range redirects {
		buf = binary.LittleEndian.AppendUint64(buf, redirect.srcVMA)
		buf = binary.LittleEndian.AppendUint64(buf, redirect.dstVMA)
	}

	_, err := w.WriteAt(buf, offset)
	return err
}

func populateTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer img.Close()

	section := img.Section(redirectSection)
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectSection)
	}

	if uint64(len(redirects))*16 > section.Size {
		return fmt.Errorf("%s: %s section too small for %d redirects", imgFile, redirectSection, len(redirects))
	}

	if err = resolveSymbols(redirects, img); err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeTable(f, int64(section.Offset), redirects)
}

func main() {
	flag.Parse()

	modPath, err := modulePath(".")
	if err != nil {
		exit(fmt.Errorf("this tool must be run from the module root: %w", err))
	}

	var imgFile string
	switch cmd := flag.Arg(0); cmd {
	case "count":
	case "populate-table":
		if flag.NArg() != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
		imgFile = flag.Arg(1)
	case "":
		exit(errors.New("missing command"))
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		exit(err)
	}

	redirects, err := findRedirects(modPath, goFiles)
	if err != nil {
		exit(err)
	}

	if imgFile == "" {
		fmt.Printf("%d", len(redirects))
		return
	}

	if err = populateTable(redirects, imgFile); err != nil {
		exit(err)
	}
}
