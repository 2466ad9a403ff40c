package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/bridge"
	"github.com/tahti-studio/tahti/oto"
	"github.com/tahti-studio/tahti/player"
	"github.com/tahti-studio/tahti/version"
)

func main() {
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the same directory where the original project file is.")
	play := flag.Bool("p", false, "Play the input projects (default behaviour when no other output is defined).")
	rawOut := flag.Bool("r", false, "Output the rendered project as .raw file. By default, saves stereo float32 buffer to disk.")
	wavOut := flag.Bool("w", false, "Output the rendered project as .wav file. By default, saves stereo float32 buffer to disk.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	yamlOut := flag.Bool("y", false, "Output the parsed project as normalized .yml file.")
	loudness := flag.Bool("l", false, "Print the per beat loudness readout of the rendered project.")
	tail := flag.Float64("t", 0, "Extra seconds to render past the end of the pattern, so releases and reverbs ring out.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*rawOut && !*wavOut && !*yamlOut && !*loudness {
		*play = true // if the user gives nothing to output, then the default behaviour is just to play the file
	}
	process := func(filename string) error {
		output := func(extension string, contents []byte) error {
			if *stdout {
				os.Stdout.Write(contents)
				return nil
			}
			dir, name := filepath.Split(filename)
			if *directory != "" {
				dir = *directory
			}
			name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
			f := filepath.Join(dir, name)
			if dir != "" {
				if err := os.MkdirAll(dir, os.ModePerm); err != nil {
					return fmt.Errorf("could not create output directory %v: %v", dir, err)
				}
			}
			if err := os.WriteFile(f, contents, 0644); err != nil {
				return fmt.Errorf("could not write file %v: %v", f, err)
			}
			return nil
		}
		inputBytes, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("could not read file %v: %v", filename, err)
		}
		project, err := tahti.ParseProject(inputBytes)
		if err != nil {
			return fmt.Errorf("could not load project: %v", err)
		}
		playback, err := bridge.RenderProject(project, bridge.RenderOptions{TailSeconds: *tail})
		if err != nil {
			return fmt.Errorf("render failed: %v", err)
		}
		if *yamlOut {
			yml, err := project.YAML()
			if err != nil {
				return fmt.Errorf("could not serialize project: %v", err)
			}
			if err := output(".yml", yml); err != nil {
				return fmt.Errorf("error outputting .yml file: %v", err)
			}
		}
		if *rawOut {
			raw, err := tahti.Raw(playback.Buffer.Interleaved(), *pcm)
			if err != nil {
				return fmt.Errorf("could not generate .raw file: %v", err)
			}
			if err := output(".raw", raw); err != nil {
				return fmt.Errorf("error outputting .raw file: %v", err)
			}
		}
		if *wavOut {
			wav, err := tahti.Wav(playback.Buffer.Interleaved(), project.Audio.SampleRate, playback.Buffer.Channels(), *pcm)
			if err != nil {
				return fmt.Errorf("could not generate .wav file: %v", err)
			}
			if err := output(".wav", wav); err != nil {
				return fmt.Errorf("error outputting .wav file: %v", err)
			}
		}
		if *loudness {
			for _, row := range playback.Loudness.Rows(bridge.DefaultGradeThresholds()) {
				fmt.Printf("%-12s %-14s %-16s %s\n", row.Label, row.RMSText, row.LUFSText, row.Grade)
			}
		}
		if *play {
			audioContext, err := oto.NewContext(project.Audio)
			if err != nil {
				return fmt.Errorf("could not acquire oto AudioContext: %v", err)
			}
			defer audioContext.Close()
			if err := player.Play(audioContext, playback); err != nil {
				return fmt.Errorf("playback failed: %v", err)
			}
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			files, err := filepath.Glob(filepath.Join(param, "*.yml"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not glob the path %v for yml files: %v\n", param, err)
				retval = 1
				continue
			}
			for _, file := range files {
				if err := process(file); err != nil {
					fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", file, err)
					retval = 1
				}
			}
		} else {
			if err := process(param); err != nil {
				fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", param, err)
				retval = 1
			}
		}
	}
	os.Exit(retval)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Tahti command line utility for rendering and playing .yml project files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
