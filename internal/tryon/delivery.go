package tryon

import (
	"lehengaTryOn/internal/imaging"
)

// Artifact is the delivered JPEG plus a scaled preview.
type Artifact struct {
	Filename string
	MIMEType string
	Data     []byte
	Width    int
	Height   int
	Preview  []byte
}

const previewQuality = 85

func (p *Pipeline) deliver(raw []byte) (*Artifact, *StageError) {
	bmp, err := imaging.Decode(raw)
	if err != nil {
		return nil, stageFailure(StateDelivering, KindDelivery, err)
	}
	data, err := imaging.EncodeJPEG(bmp, imaging.DeliveryQuality)
	if err != nil {
		return nil, stageFailure(StateDelivering, KindDelivery, err)
	}
	art := &Artifact{
		Filename: p.filename(),
		MIMEType: "image/jpeg",
		Data:     data,
		Width:    bmp.Width,
		Height:   bmp.Height,
	}
	if p.PreviewEdge > 0 {
		preview, err := imaging.PreviewJPEG(bmp, p.PreviewEdge, previewQuality)
		if err != nil {
			return nil, stageFailure(StateDelivering, KindDelivery, err)
		}
		art.Preview = preview
	}
	return art, nil
}

func (p *Pipeline) filename() string {
	if p.Filename == "" {
		return DefaultFilename
	}
	return p.Filename
}
