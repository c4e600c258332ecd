package macosbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/buildconfig"
	"github.com/wireapp/desktop-release/pkg/packager"
	"howett.net/plist"
)

const (
	platformMAS = "mas"

	outputDir           = "wrap/build"
	iconPath            = "resources/macos/logo.icns"
	extendInfoPath      = "resources/macos/custom.plist"
	entitlementsParent  = "resources/macos/entitlements/parent.plist"
	entitlementsChild   = "resources/macos/entitlements/child.plist"
	rendererIgnoreRegex = `electron/renderer/src`
)

// PackagerOptions assembles the electron-packager options for a Mac App
// Store build. Signing is attached only with an application certificate,
// notarization only with both an Apple ID and its password.
func PackagerOptions(cfg *buildconfig.Config, mac MacOSConfig) packager.Options {
	po := packager.Options{
		Dir:      cfg.ElectronDirectory,
		Name:     cfg.Name,
		Platform: platformMAS,
		Out:      outputDir,

		AppBundleID:     mac.BundleID,
		HelperBundleID:  mac.BundleID + ".helper",
		AppCategoryType: mac.Category,
		AppCopyright:    cfg.Copyright,
		AppVersion:      cfg.Version,
		BuildVersion:    cfg.BuildNumber,

		ExtendInfo: extendInfoPath,
		Icon:       iconPath,
		Ignore:     rendererIgnoreRegex,
		Protocols: []packager.Protocol{
			{
				Name:    fmt.Sprintf("%s Core Protocol", cfg.Name),
				Schemes: []string{cfg.CustomProtocolName},
			},
		},

		Asar:                  true,
		Overwrite:             true,
		DarwinDarkModeSupport: true,
	}

	if mac.CertNameApplication != "" {
		po.Sign = &packager.SigningOptions{
			Identity:            mac.CertNameApplication,
			Entitlements:        entitlementsParent,
			EntitlementsInherit: entitlementsChild,
		}
	}

	if mac.NotarizeAppleID != "" && mac.NotarizeApplePassword != "" {
		po.Notarize = &packager.NotarizationOptions{
			AppleID:         mac.NotarizeAppleID,
			AppleIDPassword: mac.NotarizeApplePassword,
		}
	}

	return po
}

// preflight checks that the property lists and icon the packager will
// read are present, and that the plists parse.
func preflight(workDir string, po packager.Options) error {
	plists := []string{po.ExtendInfo}
	if po.Sign != nil {
		plists = append(plists, po.Sign.Entitlements, po.Sign.EntitlementsInherit)
	}

	for _, p := range plists {
		data, err := os.ReadFile(filepath.Join(workDir, p))
		if err != nil {
			return errors.Wrapf(packager.ErrPackagingFailed, "reading %s: %s", p, err)
		}
		var v interface{}
		if _, err := plist.Unmarshal(data, &v); err != nil {
			return errors.Wrapf(packager.ErrPackagingFailed, "%s is not a property list: %s", p, err)
		}
		if _, ok := v.(map[string]interface{}); !ok {
			return errors.Wrapf(packager.ErrPackagingFailed, "%s is not a dictionary", p)
		}
	}

	if _, err := os.Stat(filepath.Join(workDir, po.Icon)); err != nil {
		return errors.Wrapf(packager.ErrPackagingFailed, "icon: %s", err)
	}

	return nil
}
