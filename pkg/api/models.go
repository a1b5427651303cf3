package api

import (
	"time"

	"github.com/google/uuid"
)

// ChunkRequest is one fragment of a chunked upload. Data is base64 encoded.
// Settings is honored only on the first chunk of a session.
type ChunkRequest struct {
	Id          string         `json:"id"`
	ChunkIndex  int            `json:"chunkIndex"`
	TotalChunks int            `json:"totalChunks"`
	Filetype    string         `json:"filetype"`
	Data        string         `json:"data"`
	Settings    *SliceSettings `json:"settings,omitempty"`
}

// SliceSettings mirrors the engine options exposed to clients. Absent fields
// mean "use engine default". Arrange/Orient carry an explicit Set flag so the
// engine receives 0/1 only when the client actually chose a value.
type SliceSettings struct {
	Printer            string `json:"printer,omitempty"`
	Preset             string `json:"preset,omitempty"`
	Filament           string `json:"filament,omitempty"`
	BedType            string `json:"bedType,omitempty"`
	Plate              string `json:"plate,omitempty"`
	MulticolorOnePlate bool   `json:"multicolorOnePlate,omitempty"`
	Arrange            *bool  `json:"arrange,omitempty"`
	Orient             *bool  `json:"orient,omitempty"`
	ExportType         string `json:"exportType,omitempty"`
}

// ChunkProgress is returned for every non-final chunk.
type ChunkProgress struct {
	Received int  `json:"received"`
	Total    int  `json:"total"`
	Complete bool `json:"complete"`
}

type PrintTimes struct {
	Model string `json:"model"`
	Total string `json:"total"`
}

type FilamentUsage struct {
	UsedMM  string `json:"used_mm,omitempty"`
	UsedCM3 string `json:"used_cm3,omitempty"`
	UsedG   string `json:"used_g,omitempty"`
	Cost    string `json:"cost,omitempty"`
}

// UploadComplete is the terminal payload of the plain upload flow.
type UploadComplete struct {
	Complete bool   `json:"complete"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Url      string `json:"url"`
}

// SliceComplete is the terminal payload of the slicing flow.
type SliceComplete struct {
	Complete bool `json:"complete"`

	ModelFilename string `json:"modelFilename"`
	ModelSize     int64  `json:"modelSize"`
	ModelUrl      string `json:"modelUrl"`

	GcodeFilename string `json:"gcodeFilename"`
	GcodeSize     int64  `json:"gcodeSize"`
	GcodeUrl      string `json:"gcodeUrl"`

	Times    PrintTimes    `json:"times"`
	Filament FilamentUsage `json:"filament"`

	Price *float64 `json:"price,omitempty"`
}

type SubmitSliceJobRequest struct {
	Filename string         `json:"filename"`
	Settings *SliceSettings `json:"settings,omitempty"`
}

type SubmitSliceJobResponse struct {
	JobId uuid.UUID `json:"jobId"`
}

type SliceJob struct {
	Id           uuid.UUID      `json:"id"`
	SessionId    string         `json:"sessionId,omitempty"`
	Status       string         `json:"status"`
	ErrorKind    string         `json:"errorKind,omitempty"`
	ErrorDetail  string         `json:"errorDetail,omitempty"`
	Result       *SliceComplete `json:"result,omitempty"`
	CreationTime time.Time      `json:"creationTime"`
}

// DownloadQuery is decoded from the signed retrieval query string.
type DownloadQuery struct {
	Filename  string `schema:"filename,required"`
	Signature string `schema:"signature,required"`
}
