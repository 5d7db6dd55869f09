package utils

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// ImageToOpenCV converts the raw image into OpenCV Matrix
func ImageToOpenCV(bImage []byte) (*gocv.Mat, error) {
	dstMat := gocv.Mat{}
	srcMat, err := gocv.IMDecode(bImage, gocv.IMReadUnchanged)
	if err != nil {
		return &gocv.Mat{}, err
	}

	// Add the rows, columns, and number of channel to the dimension
	dimension := []int{}
	dimension = append(dimension, srcMat.Size()...)
	dimension = append(dimension, srcMat.Channels())

	if len(dimension) < 3 {
		return &dstMat, errors.New(fmt.Sprintf("invalid number of dimension: %d", len(dimension)))
	}

	if dimension[2] == 4 { // RGBA
		gocv.CvtColor(srcMat, &dstMat, gocv.ColorBGRAToBGR)
	} else if dimension[2] == 1 { // Grayscale
		gocv.CvtColor(srcMat, &dstMat, gocv.ColorGrayToBGR)
	} else {
		dstMat = srcMat
	}
	return &dstMat, nil
}

// ImageToTensor resizes BGR images to height x width and packs them into a
// (batch, height, width, 3) RGB float32 tensor. With normalize the pixel values are
// mapped from [0, 255] to [-1, 1].
func ImageToTensor(imgs []gocv.Mat, height, width int, normalize bool) (*tensor.Dense, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no image to convert")
	}

	backing := make([]float32, len(imgs)*height*width*3)
	for i, img := range imgs {
		if img.Empty() {
			return nil, fmt.Errorf("image %d is empty", i)
		}
		resizedImg := gocv.NewMat()
		gocv.Resize(img, &resizedImg, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
		rgbImg := gocv.NewMat()
		gocv.CvtColor(resizedImg, &rgbImg, gocv.ColorBGRToRGB)
		_ = resizedImg.Close()

		offset := i * height * width * 3
		for y := range height {
			for x := range width {
				px := rgbImg.GetVecbAt(y, x)
				for z := range 3 {
					v := float32(px[z])
					if normalize {
						v = v/127.5 - 1
					}
					backing[offset+(y*width+x)*3+z] = v
				}
			}
		}
		_ = rgbImg.Close()
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(imgs), height, width, 3),
		tensor.WithBacking(backing),
	), nil
}
