package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"blesim/binlog"
)

func main() {
	file1 := flag.String("1", "", "Original trace")
	file2 := flag.String("2", "", "Re-recorded trace")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: tracediff -1 <original> -2 <re-recorded>")
	}

	frames1, err := readFrames(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}

	frames2, err := readFrames(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original frames (data only): %d\n", len(frames1))
	fmt.Printf("Re-recorded frames (data only): %d\n", len(frames2))

	minLen := len(frames1)
	if len(frames2) < minLen {
		minLen = len(frames2)
	}

	mismatches := 0
	for i := 0; i < minLen; i++ {
		if !bytes.Equal(frames1[i], frames2[i]) {
			fmt.Printf("Mismatch at frame %d: len1=%d len2=%d\n", i, len(frames1[i]), len(frames2[i]))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}

	if len(frames1) != len(frames2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(frames1), len(frames2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All frames match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}

// readFrames collects the data frames from a trace, skipping the table
// records. Two traces of the same traffic compare equal frame-for-frame
// even when their table snapshots differ.
func readFrames(path string) ([][]byte, error) {
	var frames [][]byte
	err := binlog.Scan(path, func(rec binlog.Record) error {
		if rec.Kind != binlog.KindData {
			return nil
		}
		frames = append(frames, rec.Frame())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}
