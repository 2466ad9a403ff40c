package bridge

import (
	"fmt"
	"math"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/meter"
)

// GradeThresholds splits bucket loudness into the three tracker grades:
// above BoldDB reads "bold", below SoftDB reads "soft", anything in
// between is "balanced".
type GradeThresholds struct {
	BoldDB float64
	SoftDB float64
}

func DefaultGradeThresholds() GradeThresholds {
	return GradeThresholds{BoldDB: -10, SoftDB: -18}
}

// LoudnessBucket measures one stretch of beats of the rendered audio.
type LoudnessBucket struct {
	Index      int
	StartBeat  float64
	EndBeat    float64
	StartFrame int
	EndFrame   int
	RMSDB      []float64
	LUFS       float64
}

// LoudnessTrends is the bucketed loudness of a render.
type LoudnessTrends struct {
	BeatsPerBucket float64
	Buckets        []LoudnessBucket
}

// LoudnessRow is one formatted line of the tracker's loudness readout.
type LoudnessRow struct {
	Label    string
	RMSText  string
	LUFSText string
	Grade    string
}

// MeasureLoudness splits the buffer into buckets of beatsPerBucket
// beats and measures per channel RMS and integrated loudness for each.
// The bucket width in frames is fixed from the tempo at the start of
// the song.
func MeasureLoudness(buffer tahti.AudioBuffer, tempo tahti.TempoMap, sampleRate int, beatsPerBucket float64) LoudnessTrends {
	if beatsPerBucket <= 0 {
		beatsPerBucket = 1
	}
	trends := LoudnessTrends{BeatsPerBucket: beatsPerBucket}
	total := buffer.Frames()
	framesPerBucket := int(math.Round(tempo.BeatsToSeconds(beatsPerBucket) * float64(sampleRate)))
	if framesPerBucket < 1 {
		framesPerBucket = 1
	}
	for start, index := 0, 0; start < total; start, index = start+framesPerBucket, index+1 {
		end := start + framesPerBucket
		if end > total {
			end = total
		}
		slice := window(buffer, start, end)
		trends.Buckets = append(trends.Buckets, LoudnessBucket{
			Index:      index,
			StartBeat:  tempo.SamplesToBeats(start, sampleRate),
			EndBeat:    tempo.SamplesToBeats(end, sampleRate),
			StartFrame: start,
			EndFrame:   end,
			RMSDB:      meter.ChannelRMSDBFS(slice),
			LUFS:       meter.IntegratedLUFS(slice, sampleRate),
		})
	}
	return trends
}

func window(buffer tahti.AudioBuffer, start, end int) tahti.AudioBuffer {
	out := make(tahti.AudioBuffer, len(buffer))
	for i, ch := range buffer {
		out[i] = ch[start:end]
	}
	return out
}

// Rows formats the buckets for the tracker readout, grading each bucket
// by the average of its first and last channel RMS.
func (t LoudnessTrends) Rows(grades GradeThresholds) []LoudnessRow {
	rows := make([]LoudnessRow, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		first, last := math.Inf(-1), math.Inf(-1)
		if len(b.RMSDB) > 0 {
			first = b.RMSDB[0]
			last = b.RMSDB[len(b.RMSDB)-1]
		}
		avg := (first + last) / 2
		grade := "balanced"
		switch {
		case avg >= grades.BoldDB:
			grade = "bold"
		case avg <= grades.SoftDB:
			grade = "soft"
		}
		rows = append(rows, LoudnessRow{
			Label:    fmt.Sprintf("Beats %.1f-%.1f", b.StartBeat, b.EndBeat),
			RMSText:  fmt.Sprintf("%.1f/%.1f dBFS", first, last),
			LUFSText: fmt.Sprintf("%.1f LUFS", b.LUFS),
			Grade:    grade,
		})
	}
	return rows
}

// TrackerLoudnessRows measures and formats in one call.
func TrackerLoudnessRows(buffer tahti.AudioBuffer, tempo tahti.TempoMap, sampleRate int, beatsPerBucket float64, grades GradeThresholds) []LoudnessRow {
	return MeasureLoudness(buffer, tempo, sampleRate, beatsPerBucket).Rows(grades)
}
